package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	mw "mindjournal/internal/middleware"
	"mindjournal/internal/remote"
	"mindjournal/internal/syncstore"
)

type Overviewer interface {
	Overview(ctx context.Context) (*remote.Overview, error)
}

type AdminHandler struct {
	db       *sqlx.DB
	overview Overviewer
	store    *syncstore.Store
	logger   *zap.Logger
}

func NewAdminHandler(db *sqlx.DB, overview Overviewer, store *syncstore.Store, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, overview: overview, store: store, logger: logger}
}

type adminOverview struct {
	*remote.Overview
	PendingSync map[string]int `json:"pending_sync"`
}

// AdminCheck reports whether userID may use server-wide operations.
type AdminCheck func(ctx context.Context, userID string) (bool, error)

// mustBeAdmin checks the current user is admin
func (h *AdminHandler) mustBeAdmin(ctx context.Context, userID string) (bool, error) {
	var isAdmin bool
	if err := h.db.QueryRowxContext(ctx, `SELECT is_admin FROM users WHERE id=$1`, userID).Scan(&isAdmin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return isAdmin, nil
}

// IsAdmin exposes the admin check to handlers guarding server-wide state.
func (h *AdminHandler) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return h.mustBeAdmin(ctx, userID)
}

// requireAdmin writes 403 or 500 and returns false unless the caller is an admin.
func requireAdmin(w http.ResponseWriter, r *http.Request, isAdmin AdminCheck, logger *zap.Logger) bool {
	ok, err := isAdmin(r.Context(), mw.UserID(r.Context()))
	if err != nil {
		logger.Error("checking admin failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return false
	}
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// Overview returns service-wide counters and the server's own device
// backlog (admin only).
func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r, h.mustBeAdmin, h.logger) {
		return
	}

	stats, err := h.overview.Overview(r.Context())
	if err != nil {
		h.logger.Error("admin overview failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	pending, err := h.store.Status()
	if err != nil {
		h.logger.Error("reading backlog status failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, adminOverview{Overview: stats, PendingSync: pending})
}
