// Package journal combines local emotion scoring, remote text analysis and
// local-first persistence into the app's journaling flows.
package journal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mindjournal/internal/analyzer"
	"mindjournal/internal/llm"
	"mindjournal/internal/syncstore"
)

var (
	ErrSessionNotFound = errors.New("cbt session not found")
	ErrSessionComplete = errors.New("cbt session already complete")
	ErrEmptyText       = errors.New("text is required")
)

// Records is the persistence the service needs; *syncstore.Store implements it.
type Records interface {
	CreateRecord(ctx context.Context, table string, rec syncstore.Record) (syncstore.Result, error)
	UpsertRecord(ctx context.Context, table string, rec syncstore.Record) (syncstore.Result, error)
	GetRecords(ctx context.Context, table string, q syncstore.Query) ([]syncstore.Record, error)
}

type Service struct {
	records   Records
	analyzer  *analyzer.Analyzer
	histories *analyzer.Histories
	provider  llm.TextAnalyzer
	logger    *zap.Logger
	now       func() time.Time

	// ConversationWindow is the number of earlier turns sent with a message.
	ConversationWindow int

	sessionMu    sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

func NewService(records Records, az *analyzer.Analyzer, provider llm.TextAnalyzer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		provider = llm.Disabled{}
	}
	return &Service{
		records:            records,
		analyzer:           az,
		histories:          analyzer.NewHistories(time.Now),
		provider:           provider,
		logger:             logger,
		now:                time.Now,
		ConversationWindow: 10,
	}
}

// Analysis is a stateless scoring of one text.
type Analysis struct {
	Emotions analyzer.Vector  `json:"emotions"`
	Dominant analyzer.Emotion `json:"dominant"`
	Score    float64          `json:"score"`
	AI       *llm.Analysis    `json:"ai_analysis"`
}

// Analyze scores text locally while the remote analysis runs concurrently.
// Nothing is stored.
func (s *Service) Analyze(ctx context.Context, text string, history []llm.Turn) *Analysis {
	remote := make(chan *llm.Analysis, 1)
	go func() {
		remote <- llm.Analyze(ctx, s.provider, s.logger, text, history)
	}()

	vec := s.analyzer.AnalyzeText(text)
	return &Analysis{
		Emotions: vec,
		Dominant: dominant(vec),
		Score:    s.analyzer.Score(vec),
		AI:       <-remote,
	}
}

// dominant is the local dominant emotion; text without any keyword is neutral.
func dominant(v analyzer.Vector) analyzer.Emotion {
	if v.Sum() == 0 {
		return analyzer.Neutral
	}
	return v.Dominant()
}

// localIntensity maps the dominant share onto the 1-5 scale.
func localIntensity(v analyzer.Vector) int {
	peak := 0.0
	for _, w := range v {
		peak = math.Max(peak, w)
	}
	return 1 + int(math.Round(peak*4))
}

type EntryResult struct {
	Entry             EmotionEntry `json:"entry"`
	PersistedRemotely bool         `json:"persisted_remotely"`
}

// RecordEntry analyses text, adds it to the user's rolling history and
// persists it. A failed remote analysis falls back to the local dominant
// emotion.
func (s *Service) RecordEntry(ctx context.Context, userID, text string, tags []string) (*EntryResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	h := s.history(ctx, userID)

	a := s.Analyze(ctx, text, nil)
	entry := EmotionEntry{
		UserID:         userID,
		CreatedAt:      s.now().UTC(),
		Text:           text,
		PrimaryEmotion: string(a.Dominant),
		Intensity:      localIntensity(a.Emotions),
		Tags:           tags,
		Emotions:       a.Emotions,
		Score:          a.Score,
	}
	if a.AI.Success {
		entry.PrimaryEmotion = a.AI.PrimaryEmotion
		entry.Intensity = a.AI.Intensity
	}
	entry.AIAnalysis = a.AI

	h.SaveEmotionData(a.Emotions, text)

	rec, err := toRecord(entry)
	if err != nil {
		return nil, err
	}
	res, err := s.records.CreateRecord(ctx, TableEntries, rec)
	if err != nil {
		return nil, fmt.Errorf("saving entry: %w", err)
	}
	var saved EmotionEntry
	if err := fromRecord(res.Record, &saved); err != nil {
		return nil, err
	}
	return &EntryResult{Entry: saved, PersistedRemotely: res.PersistedRemotely}, nil
}

func (s *Service) Entries(ctx context.Context, userID string, limit, offset int) ([]EmotionEntry, error) {
	recs, err := s.records.GetRecords(ctx, TableEntries, syncstore.Query{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	out := make([]EmotionEntry, 0, len(recs))
	for _, rec := range recs {
		var e EmotionEntry
		if err := fromRecord(rec, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Report summarises the user's recent history; nil when there is none.
func (s *Service) Report(ctx context.Context, userID string) *analyzer.Report {
	return s.analyzer.GenerateEmotionReport(s.history(ctx, userID))
}

// history returns the user's rolling window, rebuilding it from stored
// entries the first time the user is seen.
func (s *Service) history(ctx context.Context, userID string) *analyzer.History {
	h, existed := s.histories.For(userID)
	if !existed {
		if _, err := s.restore(ctx, userID, h); err != nil {
			s.logger.Warn("restoring emotion history failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return h
}

// RestoreHistory reloads the user's window from stored entries and returns
// the number of days it now holds.
func (s *Service) RestoreHistory(ctx context.Context, userID string) (int, error) {
	h, _ := s.histories.For(userID)
	return s.restore(ctx, userID, h)
}

// restorePageSize is how many stored entries restore reads per request.
const restorePageSize = 100

// restore pages through the user's entries newest first until it has seen
// HistoryLimit distinct days, then replays them oldest first so the latest
// entry of each day wins.
func (s *Service) restore(ctx context.Context, userID string, h *analyzer.History) (int, error) {
	var newest []EmotionEntry
	days := make(map[string]bool, analyzer.HistoryLimit)
collect:
	for offset := 0; ; offset += restorePageSize {
		page, err := s.Entries(ctx, userID, restorePageSize, offset)
		if err != nil {
			return 0, err
		}
		for _, e := range page {
			day := e.CreatedAt.Local().Format("2006-01-02")
			if !days[day] && len(days) == analyzer.HistoryLimit {
				break collect
			}
			days[day] = true
			newest = append(newest, e)
		}
		if len(page) < restorePageSize {
			break
		}
	}

	hist := make([]analyzer.HistoryEntry, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		e := newest[i]
		ts := e.CreatedAt.Local()
		hist = append(hist, analyzer.HistoryEntry{
			Date:      ts.Format("2006-01-02"),
			Emotions:  e.Emotions,
			Context:   e.Text,
			Timestamp: ts,
		})
	}
	h.Restore(hist)
	return h.Len(), nil
}
