package journal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mindjournal/internal/syncstore"
)

type CBTResult struct {
	Session           CBTSession `json:"session"`
	Prompt            string     `json:"prompt,omitempty"`
	PersistedRemotely bool       `json:"persisted_remotely"`
}

// StartCBT opens a thought-record session at its first step. A non-empty
// situation answers that step right away.
func (s *Service) StartCBT(ctx context.Context, userID, situation string) (*CBTResult, error) {
	now := s.now().UTC()
	sess := CBTSession{UserID: userID, CreatedAt: now, UpdatedAt: now, Step: StepSituation}
	if situation = strings.TrimSpace(situation); situation != "" {
		sess.Situation = situation
		sess.Step = StepThought
	}

	rec, err := toRecord(sess)
	if err != nil {
		return nil, err
	}
	res, err := s.records.CreateRecord(ctx, TableCBTSessions, rec)
	if err != nil {
		return nil, fmt.Errorf("saving cbt session: %w", err)
	}
	return cbtResult(res)
}

// AdvanceCBT stores answer for the session's current step and moves to the
// next one.
func (s *Service) AdvanceCBT(ctx context.Context, userID, sessionID, answer string) (*CBTResult, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrEmptyText
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.Session(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed || sess.Step == StepDone {
		return nil, ErrSessionComplete
	}

	switch sess.Step {
	case StepSituation:
		sess.Situation = answer
	case StepThought:
		sess.AutomaticThought = answer
	case StepEmotion:
		sess.Emotions = answer
		sess.EmotionScores = s.analyzer.AnalyzeText(answer)
	case StepEvidenceFor:
		sess.EvidenceFor = answer
	case StepEvidenceAgainst:
		sess.EvidenceAgainst = answer
	case StepReframe:
		sess.BalancedThought = answer
	}
	sess.Step = sess.Step.next()
	sess.Completed = sess.Step == StepDone
	sess.UpdatedAt = s.now().UTC()

	rec, err := toRecord(sess)
	if err != nil {
		return nil, err
	}
	res, err := s.records.UpsertRecord(ctx, TableCBTSessions, rec)
	if err != nil {
		return nil, fmt.Errorf("saving cbt session: %w", err)
	}
	return cbtResult(res)
}

// sessionLock serialises answers to one session so concurrent answers each
// advance it by one step.
func (s *Service) sessionLock(id string) *sync.Mutex {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.sessionLocks == nil {
		s.sessionLocks = make(map[string]*sync.Mutex)
	}
	l, ok := s.sessionLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.sessionLocks[id] = l
	}
	return l
}

func (s *Service) Session(ctx context.Context, userID, sessionID string) (*CBTSession, error) {
	recs, err := s.records.GetRecords(ctx, TableCBTSessions, syncstore.Query{UserID: userID, ID: sessionID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrSessionNotFound
	}
	var sess CBTSession
	if err := fromRecord(recs[0], &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Service) Sessions(ctx context.Context, userID string, limit, offset int) ([]CBTSession, error) {
	recs, err := s.records.GetRecords(ctx, TableCBTSessions, syncstore.Query{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	out := make([]CBTSession, 0, len(recs))
	for _, rec := range recs {
		var sess CBTSession
		if err := fromRecord(rec, &sess); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func cbtResult(res syncstore.Result) (*CBTResult, error) {
	var sess CBTSession
	if err := fromRecord(res.Record, &sess); err != nil {
		return nil, err
	}
	return &CBTResult{Session: sess, Prompt: sess.Step.Prompt(), PersistedRemotely: res.PersistedRemotely}, nil
}
