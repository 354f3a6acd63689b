package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"mindjournal/internal/journal"
	mw "mindjournal/internal/middleware"
	"mindjournal/internal/syncstore"
)

type MigrateHandler struct {
	records journal.Records
	logger  *zap.Logger
}

func NewMigrateHandler(records journal.Records, logger *zap.Logger) *MigrateHandler {
	return &MigrateHandler{records: records, logger: logger}
}

// MigrateRequest is a device's offline backlog, pushed in bulk after it
// reconnects. Records keep their created_at; ids are reassigned.
type MigrateRequest struct {
	Entries       []syncstore.Record `json:"entries"`
	CBTSessions   []syncstore.Record `json:"cbt_sessions"`
	Conversations []syncstore.Record `json:"conversations"`
}

type MigrateResponse struct {
	Migrated          int `json:"migrated"`
	PersistedRemotely int `json:"persisted_remotely"`
	Queued            int `json:"queued"`
}

const maxMigrateRecords = 1000

// MigrateData stores every pushed record for the authenticated user. The
// user_id of each record is overwritten with the caller's.
func (h *MigrateHandler) MigrateData(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r.Context())

	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	batches := []struct {
		table string
		recs  []syncstore.Record
	}{
		{journal.TableEntries, req.Entries},
		{journal.TableCBTSessions, req.CBTSessions},
		{journal.TableConversations, req.Conversations},
	}

	total := 0
	for _, b := range batches {
		total += len(b.recs)
	}
	if total == 0 {
		http.Error(w, "no records provided", http.StatusBadRequest)
		return
	}
	if total > maxMigrateRecords {
		http.Error(w, fmt.Sprintf("too many records; at most %d per request", maxMigrateRecords), http.StatusRequestEntityTooLarge)
		return
	}

	var resp MigrateResponse
	for _, b := range batches {
		for _, rec := range b.recs {
			if rec == nil {
				continue
			}
			rec = rec.Clone()
			rec["user_id"] = userID
			res, err := h.records.CreateRecord(r.Context(), b.table, rec)
			if err != nil {
				h.logger.Error("migrating record failed", zap.String("table", b.table), zap.Error(err))
				http.Error(w, "could not save records", http.StatusInternalServerError)
				return
			}
			resp.Migrated++
			if res.PersistedRemotely {
				resp.PersistedRemotely++
			} else {
				resp.Queued++
			}
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}
