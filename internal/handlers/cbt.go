package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mindjournal/internal/journal"
	mw "mindjournal/internal/middleware"
)

type CBTHandler struct {
	svc    *journal.Service
	logger *zap.Logger
}

func NewCBTHandler(svc *journal.Service, logger *zap.Logger) *CBTHandler {
	return &CBTHandler{svc: svc, logger: logger}
}

func (h *CBTHandler) Start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Situation string `json:"situation"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}
	res, err := h.svc.StartCBT(r.Context(), mw.UserID(r.Context()), body.Situation)
	if err != nil {
		serviceError(w, h.logger, "starting cbt session", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *CBTHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	res, err := h.svc.AdvanceCBT(r.Context(), mw.UserID(r.Context()), chi.URLParam(r, "id"), body.Answer)
	if err != nil {
		serviceError(w, h.logger, "advancing cbt session", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CBTHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := page(r)
	if !ok {
		http.Error(w, "invalid limit or offset", http.StatusBadRequest)
		return
	}
	sessions, err := h.svc.Sessions(r.Context(), mw.UserID(r.Context()), limit, offset)
	if err != nil {
		serviceError(w, h.logger, "listing cbt sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
