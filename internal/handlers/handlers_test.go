package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mindjournal/internal/analyzer"
	"mindjournal/internal/devicestore"
	"mindjournal/internal/journal"
	mw "mindjournal/internal/middleware"
	"mindjournal/internal/remote"
	"mindjournal/internal/syncstore"
)

var errOffline = errors.New("offline")

// offlineRemote fails every call, so all writes land in the device backlog.
type offlineRemote struct{}

func (offlineRemote) Insert(context.Context, string, syncstore.Record) (syncstore.Record, error) {
	return nil, errOffline
}
func (offlineRemote) Select(context.Context, string, syncstore.Query) ([]syncstore.Record, error) {
	return nil, errOffline
}
func (offlineRemote) Upsert(context.Context, string, syncstore.Record) (syncstore.Record, error) {
	return nil, errOffline
}

type testEnv struct {
	store *syncstore.Store
	svc   *journal.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dev, err := devicestore.Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("failed to open device store: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	store := syncstore.New(offlineRemote{}, dev, nil)
	svc := journal.NewService(store, analyzer.New(analyzer.DefaultLexicon()), nil, nil)
	return &testEnv{store: store, svc: svc}
}

func authed(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	return req.WithContext(mw.WithUserID(req.Context(), userID))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
}

func TestCreateEntryOffline(t *testing.T) {
	env := newTestEnv(t)
	h := NewJournalHandler(env.svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Create(rec, authed(http.MethodPost, "/api/entries", `{"text":"I feel happy today","tags":["morning"]}`, "u1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var res journal.EntryResult
	decode(t, rec, &res)
	if res.PersistedRemotely {
		t.Error("expected local-only persistence")
	}
	if !syncstore.IsLocalID(res.Entry.ID) || res.Entry.PrimaryEmotion != "joy" {
		t.Errorf("unexpected entry: %+v", res.Entry)
	}

	rec = httptest.NewRecorder()
	h.List(rec, authed(http.MethodGet, "/api/entries?limit=10", "", "u1"))
	var entries []journal.EmotionEntry
	decode(t, rec, &entries)
	if len(entries) != 1 || entries[0].Text != "I feel happy today" {
		t.Errorf("expected the stored entry, got %+v", entries)
	}
}

func TestCreateEntryValidation(t *testing.T) {
	env := newTestEnv(t)
	h := NewJournalHandler(env.svc, zap.NewNop())

	for _, body := range []string{`{"text":"   "}`, `not json`} {
		rec := httptest.NewRecorder()
		h.Create(rec, authed(http.MethodPost, "/api/entries", body, "u1"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.List(rec, authed(http.MethodGet, "/api/entries?limit=-1", "", "u1"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	h := NewAnalyzerHandler(env.svc)

	rec := httptest.NewRecorder()
	h.Analyze(rec, authed(http.MethodPost, "/api/analyze", `{"text":"I am furious"}`, "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out journal.Analysis
	decode(t, rec, &out)
	if out.Dominant != analyzer.Anger || out.AI == nil || out.AI.Reply == "" {
		t.Errorf("unexpected analysis: %+v", out)
	}

	if n, _ := env.store.Pending(journal.TableEntries); n != 0 {
		t.Error("expected analyze to store nothing")
	}
}

func TestCBTEndpoints(t *testing.T) {
	env := newTestEnv(t)
	h := NewCBTHandler(env.svc, zap.NewNop())
	r := chi.NewRouter()
	r.Post("/api/cbt", h.Start)
	r.Post("/api/cbt/{id}/answer", h.Answer)
	r.Get("/api/cbt", h.List)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authed(http.MethodPost, "/api/cbt", `{"situation":"Missed the bus"}`, "u1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var started journal.CBTResult
	decode(t, rec, &started)
	if started.Session.Step != journal.StepThought {
		t.Fatalf("expected thought step, got %q", started.Session.Step)
	}

	answer := func(id, text string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, authed(http.MethodPost, "/api/cbt/"+id+"/answer", `{"answer":"`+text+`"}`, "u1"))
		return rec
	}
	for _, a := range []string{"I always mess up", "frustrated", "I was late", "It was the first time", "It happens to everyone"} {
		if rec := answer(started.Session.ID, a); rec.Code != http.StatusOK {
			t.Fatalf("answer %q: expected 200, got %d: %s", a, rec.Code, rec.Body.String())
		}
	}
	if rec := answer(started.Session.ID, "again"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for completed session, got %d", rec.Code)
	}
	if rec := answer("local-0", "x"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authed(http.MethodGet, "/api/cbt", "", "u1"))
	var sessions []journal.CBTSession
	decode(t, rec, &sessions)
	if len(sessions) != 1 || !sessions[0].Completed {
		t.Errorf("expected one completed session, got %+v", sessions)
	}
}

func TestConversationEndpoint(t *testing.T) {
	env := newTestEnv(t)
	h := NewConversationHandler(env.svc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Send(rec, authed(http.MethodPost, "/api/conversation", `{"message":"I can't sleep"}`, "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var reply journal.ConversationReply
	decode(t, rec, &reply)
	if reply.AssistantTurn.Content == "" || reply.PersistedRemotely {
		t.Errorf("unexpected reply: %+v", reply)
	}

	rec = httptest.NewRecorder()
	h.List(rec, authed(http.MethodGet, "/api/conversation", "", "u1"))
	var turns []journal.ConversationTurn
	decode(t, rec, &turns)
	if len(turns) != 2 || turns[0].Role != "assistant" {
		t.Errorf("expected assistant turn first, got %+v", turns)
	}
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.RecordEntry(ctx, "u1", "sad", nil)
	env.svc.RecordEntry(ctx, "u1", "scared", nil)
	admins := func(_ context.Context, userID string) (bool, error) { return userID == "admin", nil }
	h := NewSyncHandler(env.store, admins, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Sync(rec, authed(http.MethodPost, "/api/sync", "", "u1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a regular user, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.Status(rec, authed(http.MethodGet, "/api/sync/status", "", "u1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a regular user, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Status(rec, authed(http.MethodGet, "/api/sync/status", "", "admin"))
	var status struct {
		Pending map[string]int `json:"pending"`
		Total   int            `json:"total"`
	}
	decode(t, rec, &status)
	if status.Pending[journal.TableEntries] != 2 || status.Total != 2 {
		t.Errorf("unexpected status: %+v", status)
	}

	rec = httptest.NewRecorder()
	h.Sync(rec, authed(http.MethodPost, "/api/sync", "", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out syncResponse
	decode(t, rec, &out)
	if len(out.Reports) != 1 || out.Reports[0].Remaining != 2 || out.Reports[0].Synced != 0 {
		t.Errorf("expected nothing synced while offline, got %+v", out.Reports)
	}
}

func TestMigrateOverridesUser(t *testing.T) {
	env := newTestEnv(t)
	h := NewMigrateHandler(env.store, zap.NewNop())

	body := `{"entries":[{"id":"local-1","user_id":"someone-else","text":"old","created_at":"2026-01-01T10:00:00Z"}],
		"conversations":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	h.MigrateData(rec, authed(http.MethodPost, "/api/migrate", body, "u1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp MigrateResponse
	decode(t, rec, &resp)
	if resp.Migrated != 2 || resp.Queued != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}

	recs, _ := env.store.GetRecords(context.Background(), journal.TableEntries, syncstore.Query{UserID: "u1"})
	if len(recs) != 1 || recs[0]["text"] != "old" {
		t.Errorf("expected migrated entry under caller, got %v", recs)
	}

	rec = httptest.NewRecorder()
	h.MigrateData(rec, authed(http.MethodPost, "/api/migrate", `{}`, "u1"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty migration, got %d", rec.Code)
	}
}

type fakeSummaries struct {
	err error
}

func (f fakeSummaries) DailyEmotionSummary(_ context.Context, _ string, ref time.Time, days int) ([]remote.DayPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]remote.DayPoint, days)
	for i := range out {
		out[i].LocalDate = ref.AddDate(0, 0, i-days+1).Format("2006-01-02")
	}
	return out, nil
}

func (f fakeSummaries) EmotionCounts(context.Context, string, time.Time) (map[string]int, error) {
	return map[string]int{"joy": 3}, f.err
}

func TestInsights(t *testing.T) {
	env := newTestEnv(t)
	env.svc.RecordEntry(context.Background(), "u1", "happy", nil)

	cases := []struct {
		name       string
		summaries  Summaries
		wantRemote bool
		wantDaily  int
	}{
		{"local only", nil, false, 0},
		{"remote down", fakeSummaries{err: errOffline}, false, 0},
		{"remote up", fakeSummaries{}, true, 3},
	}
	for _, c := range cases {
		h := NewInsightsHandler(env.svc, c.summaries, zap.NewNop())
		rec := httptest.NewRecorder()
		h.Get(rec, authed(http.MethodGet, "/api/insights?local_date=2026-05-10&days=3", "", "u1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", c.name, rec.Code)
		}
		var out struct {
			ReferenceDate string            `json:"reference_date"`
			Report        *json.RawMessage  `json:"report"`
			Daily         []remote.DayPoint `json:"daily"`
			Remote        bool              `json:"remote"`
		}
		decode(t, rec, &out)
		if out.Report == nil || out.ReferenceDate != "2026-05-10" {
			t.Errorf("%s: expected report for reference date, got %+v", c.name, out)
		}
		if out.Remote != c.wantRemote || len(out.Daily) != c.wantDaily {
			t.Errorf("%s: remote=%v daily=%d", c.name, out.Remote, len(out.Daily))
		}
	}

	h := NewInsightsHandler(env.svc, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	h.Get(rec, authed(http.MethodGet, "/api/insights?days=500", "", "u1"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for days out of range, got %d", rec.Code)
	}
}
