package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"mindjournal/internal/journal"
	"mindjournal/internal/llm"
)

type AnalyzerHandler struct {
	svc *journal.Service
}

func NewAnalyzerHandler(svc *journal.Service) *AnalyzerHandler {
	return &AnalyzerHandler{svc: svc}
}

type analyzeRequest struct {
	Text    string     `json:"text"`
	History []llm.Turn `json:"history"`
}

// Analyze scores text without storing anything. Remote analysis failures
// come back as the fallback reply, never as an error.
func (h *AnalyzerHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Analyze(r.Context(), req.Text, req.History))
}
