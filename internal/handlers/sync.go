package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"mindjournal/internal/syncstore"
)

// SyncHandler exposes the server's device backlog. The backlog holds every
// user's queued records, so both endpoints are admin only.
type SyncHandler struct {
	store   *syncstore.Store
	isAdmin AdminCheck
	logger  *zap.Logger
}

func NewSyncHandler(store *syncstore.Store, isAdmin AdminCheck, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{store: store, isAdmin: isAdmin, logger: logger}
}

type syncResponse struct {
	Reports []syncstore.SyncReport `json:"reports"`
	Pending map[string]int         `json:"pending"`
}

// Sync replays every table's device backlog now instead of waiting for the
// background worker.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r, h.isAdmin, h.logger) {
		return
	}
	reports, err := h.store.SyncAll(r.Context())
	if err != nil {
		h.logger.Error("sync failed", zap.Error(err))
		http.Error(w, "could not read device backlog", http.StatusInternalServerError)
		return
	}
	pending, err := h.store.Status()
	if err != nil {
		h.logger.Error("reading backlog status failed", zap.Error(err))
		http.Error(w, "could not read device backlog", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []syncstore.SyncReport{}
	}
	writeJSON(w, http.StatusOK, syncResponse{Reports: reports, Pending: pending})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r, h.isAdmin, h.logger) {
		return
	}
	pending, err := h.store.Status()
	if err != nil {
		h.logger.Error("reading backlog status failed", zap.Error(err))
		http.Error(w, "could not read device backlog", http.StatusInternalServerError)
		return
	}
	total := 0
	for _, n := range pending {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending, "total": total})
}
