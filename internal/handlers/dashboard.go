package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"mindjournal/internal/analyzer"
	"mindjournal/internal/journal"
	mw "mindjournal/internal/middleware"
	"mindjournal/internal/remote"
)

// Summaries is the remote analytics aggregation; *remote.Tables implements it.
type Summaries interface {
	DailyEmotionSummary(ctx context.Context, userID string, refDate time.Time, days int) ([]remote.DayPoint, error)
	EmotionCounts(ctx context.Context, userID string, since time.Time) (map[string]int, error)
}

type InsightsHandler struct {
	svc       *journal.Service
	summaries Summaries
	logger    *zap.Logger
}

// NewInsightsHandler serves insights. summaries may be nil when no remote
// database is configured; the response then only carries the local report.
func NewInsightsHandler(svc *journal.Service, summaries Summaries, logger *zap.Logger) *InsightsHandler {
	return &InsightsHandler{svc: svc, summaries: summaries, logger: logger}
}

type insightsResponse struct {
	ReferenceDate string            `json:"reference_date"`
	Report        *analyzer.Report  `json:"report"`
	Daily         []remote.DayPoint `json:"daily,omitempty"`
	EmotionCounts map[string]int    `json:"emotion_counts,omitempty"`
	Remote        bool              `json:"remote"`
}

// Get combines the rolling-window report with remote daily aggregates.
// Accepts optional query params: local_date=YYYY-MM-DD and days=N (1-90).
func (h *InsightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())
	q := r.URL.Query()

	refDate := time.Now()
	if s := q.Get("local_date"); s != "" {
		var err error
		if refDate, err = time.Parse("2006-01-02", s); err != nil {
			http.Error(w, "invalid local_date format; expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	days := analyzer.ReportWindow
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 90 {
			http.Error(w, "invalid days; expected 1-90", http.StatusBadRequest)
			return
		}
		days = n
	}

	resp := insightsResponse{
		ReferenceDate: refDate.Format("2006-01-02"),
		Report:        h.svc.Report(r.Context(), userID),
	}

	if h.summaries != nil {
		daily, err := h.summaries.DailyEmotionSummary(r.Context(), userID, refDate, days)
		if err == nil {
			since := refDate.AddDate(0, 0, -(days - 1))
			resp.EmotionCounts, err = h.summaries.EmotionCounts(r.Context(), userID, since.Truncate(24*time.Hour))
		}
		if err != nil {
			h.logger.Warn("remote insights unavailable", zap.Error(err))
		} else {
			resp.Daily = daily
			resp.Remote = true
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
