package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"mindjournal/internal/journal"
	mw "mindjournal/internal/middleware"
)

type ConversationHandler struct {
	svc    *journal.Service
	logger *zap.Logger
}

func NewConversationHandler(svc *journal.Service, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{svc: svc, logger: logger}
}

func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Converse(r.Context(), mw.UserID(r.Context()), body.Message)
	if err != nil {
		serviceError(w, h.logger, "conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// List returns turns newest first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := page(r)
	if !ok {
		http.Error(w, "invalid limit or offset", http.StatusBadRequest)
		return
	}
	turns, err := h.svc.Turns(r.Context(), mw.UserID(r.Context()), limit, offset)
	if err != nil {
		serviceError(w, h.logger, "listing conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}
