package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"mindjournal/internal/journal"
	mw "mindjournal/internal/middleware"
)

type JournalHandler struct {
	svc    *journal.Service
	logger *zap.Logger
}

func NewJournalHandler(svc *journal.Service, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{svc: svc, logger: logger}
}

type entryRequest struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// Create scores, stores and returns a new emotion entry. The response says
// whether it reached the remote tables or only the device backlog.
func (h *JournalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := h.svc.RecordEntry(r.Context(), mw.UserID(r.Context()), req.Text, req.Tags)
	if err != nil {
		serviceError(w, h.logger, "saving entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := page(r)
	if !ok {
		http.Error(w, "invalid limit or offset", http.StatusBadRequest)
		return
	}
	entries, err := h.svc.Entries(r.Context(), mw.UserID(r.Context()), limit, offset)
	if err != nil {
		serviceError(w, h.logger, "listing entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// serviceError maps journal errors to statuses. Anything unexpected means
// the device store failed too and is logged.
func serviceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, journal.ErrEmptyText):
		http.Error(w, "text is required", http.StatusBadRequest)
	case errors.Is(err, journal.ErrSessionNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, journal.ErrSessionComplete):
		http.Error(w, "session already complete", http.StatusConflict)
	default:
		logger.Error(op+" failed", zap.Error(err))
		http.Error(w, "could not save", http.StatusInternalServerError)
	}
}
