package syncstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"mindjournal/internal/devicestore"
)

var errUnreachable = errors.New("remote unreachable")

// fakeRemote is an in-memory remote table service with switchable failures.
type fakeRemote struct {
	mu         sync.Mutex
	rows       map[string][]Record
	nextID     int
	down       bool
	failInsert func(rec Record) bool
	upserts    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[string][]Record)}
}

func (f *fakeRemote) Insert(_ context.Context, table string, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || (f.failInsert != nil && f.failInsert(rec)) {
		return nil, errUnreachable
	}
	if _, ok := rec["id"]; ok {
		return nil, fmt.Errorf("insert must not carry an id, got %v", rec["id"])
	}
	f.nextID++
	saved := rec.Clone()
	saved["id"] = strconv.Itoa(f.nextID)
	f.rows[table] = append(f.rows[table], saved)
	return saved, nil
}

func (f *fakeRemote) Select(_ context.Context, table string, q Query) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errUnreachable
	}
	var out []Record
	for _, r := range f.rows[table] {
		if r.UserID() == q.UserID && (q.ID == "" || r.ID() == q.ID) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return paginate(out, q.Offset, q.Limit), nil
}

func (f *fakeRemote) Upsert(_ context.Context, table string, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errUnreachable
	}
	f.upserts++
	for i, r := range f.rows[table] {
		if r.ID() == rec.ID() {
			f.rows[table][i] = rec.Clone()
			return rec.Clone(), nil
		}
	}
	f.rows[table] = append(f.rows[table], rec.Clone())
	return rec.Clone(), nil
}

func (f *fakeRemote) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[table])
}

// brokenDevice fails every operation.
type brokenDevice struct{}

func (brokenDevice) Get(string, any) (bool, error) { return false, errors.New("disk full") }
func (brokenDevice) Set(string, any) error         { return errors.New("disk full") }
func (brokenDevice) Remove(string) error           { return errors.New("disk full") }
func (brokenDevice) Keys(string) ([]string, error) { return nil, errors.New("disk full") }

func openTestStore(t *testing.T, remote RemoteTables) *Store {
	t.Helper()
	dev, err := devicestore.Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("failed to open device store: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	s := New(remote, dev, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	return s
}

func entry(user, text string, created time.Time) Record {
	return Record{"user_id": user, "text": text, "created_at": created.Format(time.RFC3339Nano)}
}

func TestCreateRecordRemoteSuccess(t *testing.T) {
	remote := newFakeRemote()
	s := openTestStore(t, remote)

	res, err := s.CreateRecord(context.Background(), "emotion_entries", Record{"user_id": "u1", "text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PersistedRemotely {
		t.Error("expected remote persistence")
	}
	if res.Record.ID() != "1" {
		t.Errorf("expected remote id '1', got %q", res.Record.ID())
	}
	if res.Record["created_at"] == nil {
		t.Error("expected created_at to be stamped")
	}
	if n, _ := s.Pending("emotion_entries"); n != 0 {
		t.Errorf("expected empty backlog, got %d", n)
	}
}

func TestCreateRecordRemoteFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)

	res, err := s.CreateRecord(context.Background(), "emotion_entries", Record{"user_id": "u1", "text": "offline"})
	if err != nil {
		t.Fatalf("expected no error on remote failure, got %v", err)
	}
	if res.Record == nil {
		t.Fatal("expected a record")
	}
	if res.PersistedRemotely {
		t.Error("expected local-only persistence")
	}
	if !IsLocalID(res.Record.ID()) {
		t.Errorf("expected synthesized local id, got %q", res.Record.ID())
	}

	recs, err := s.GetRecords(context.Background(), "emotion_entries", Query{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].ID() != res.Record.ID() {
		t.Errorf("expected record in backlog, got %v", recs)
	}
	if n, _ := s.Pending("emotion_entries"); n != 1 {
		t.Errorf("expected 1 pending, got %d", n)
	}
}

func TestCreateRecordDeviceFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := New(remote, brokenDevice{}, nil)

	if _, err := s.CreateRecord(context.Background(), "emotion_entries", Record{"user_id": "u1"}); err == nil {
		t.Fatal("expected error when both remote and device fail")
	}
}

func TestCreateRecordDoesNotMutateInput(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)

	in := Record{"user_id": "u1"}
	s.CreateRecord(context.Background(), "emotion_entries", in)
	if _, ok := in["id"]; ok {
		t.Error("expected caller's record to be left untouched")
	}
}

func TestLocalIDsAreUnique(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)

	a, _ := s.CreateRecord(context.Background(), "t", Record{"user_id": "u"})
	b, _ := s.CreateRecord(context.Background(), "t", Record{"user_id": "u"})
	if a.Record.ID() == b.Record.ID() {
		t.Errorf("expected distinct ids, both %q", a.Record.ID())
	}
}

func TestGetRecordsFallbackOrderingAndPagination(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.CreateRecord(ctx, "emotion_entries", entry("u1", fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Hour)))
	}
	s.CreateRecord(ctx, "emotion_entries", entry("u2", "other user", base.Add(10*time.Hour)))

	recs, err := s.GetRecords(ctx, "emotion_entries", Query{UserID: "u1", Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0]["text"] != "e3" || recs[1]["text"] != "e2" {
		t.Errorf("expected e3, e2; got %v, %v", recs[0]["text"], recs[1]["text"])
	}

	recs, _ = s.GetRecords(ctx, "emotion_entries", Query{UserID: "u1", Offset: 10})
	if len(recs) != 0 {
		t.Errorf("expected empty page, got %d", len(recs))
	}
}

func TestGetRecordsFallbackIncludesAuditCopies(t *testing.T) {
	remote := newFakeRemote()
	s := openTestStore(t, remote)
	ctx := context.Background()

	s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1", "text": "online"})
	remote.down = true
	s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1", "text": "offline"})

	recs, err := s.GetRecords(ctx, "emotion_entries", Query{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected backlog and audit copy, got %d records", len(recs))
	}
	if n, _ := s.Pending("emotion_entries"); n != 1 {
		t.Errorf("expected audit copy not to count as pending, got %d", n)
	}
}

func TestSyncLocalDataKeepsOnlyFailures(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		res, err := s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1", "text": text})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, res.Record.ID())
	}

	remote.down = false
	remote.failInsert = func(rec Record) bool { return rec["text"] == "two" }

	report, err := s.SyncLocalData(ctx, "emotion_entries")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Attempted != 3 || report.Synced != 2 || report.Remaining != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	var backlog []Record
	s.local.Get(backlogKey("emotion_entries"), &backlog)
	if len(backlog) != 1 {
		t.Fatalf("expected 1 record left, got %d", len(backlog))
	}
	if backlog[0]["text"] != "two" || backlog[0].ID() != ids[1] {
		t.Errorf("expected record two to remain, got %v", backlog[0])
	}
	if remote.count("emotion_entries") != 2 {
		t.Errorf("expected 2 remote rows, got %d", remote.count("emotion_entries"))
	}
}

func TestSyncLocalDataAssignsNewRemoteIDs(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()

	res, _ := s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1", "text": "x"})
	remote.down = false
	s.SyncLocalData(ctx, "emotion_entries")

	recs, _ := s.GetRecords(ctx, "emotion_entries", Query{UserID: "u1"})
	if len(recs) != 1 {
		t.Fatalf("expected 1 remote record, got %d", len(recs))
	}
	if recs[0].ID() == res.Record.ID() || IsLocalID(recs[0].ID()) {
		t.Errorf("expected fresh remote id, got %q", recs[0].ID())
	}
	if n, _ := s.Pending("emotion_entries"); n != 0 {
		t.Errorf("expected empty backlog, got %d", n)
	}
}

func TestSyncAllAndStatus(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()

	s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1"})
	s.CreateRecord(ctx, "cbt_sessions", Record{"user_id": "u1"})
	s.CreateRecord(ctx, "cbt_sessions", Record{"user_id": "u1"})

	status, err := s.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status["emotion_entries"] != 1 || status["cbt_sessions"] != 2 {
		t.Errorf("unexpected status: %v", status)
	}

	remote.down = false
	reports, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("expected 2 reports, got %d", len(reports))
	}
	status, _ = s.Status()
	if len(status) != 0 {
		t.Errorf("expected no pending tables, got %v", status)
	}
}

func TestUpsertLocalRecordUpdatesBacklogInPlace(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()

	res, _ := s.CreateRecord(ctx, "cbt_sessions", Record{"user_id": "u1", "step": "situation"})
	rec := res.Record.Clone()
	rec["step"] = "thought"

	remote.down = false
	up, err := s.UpsertRecord(ctx, "cbt_sessions", rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.PersistedRemotely {
		t.Error("expected local-only update for a local record")
	}
	if remote.upserts != 0 {
		t.Error("expected no remote upsert for a local id")
	}

	var backlog []Record
	s.local.Get(backlogKey("cbt_sessions"), &backlog)
	if len(backlog) != 1 || backlog[0]["step"] != "thought" {
		t.Errorf("expected updated backlog entry, got %v", backlog)
	}
}

func TestUpsertRemoteFailureReplaysAsUpsert(t *testing.T) {
	remote := newFakeRemote()
	s := openTestStore(t, remote)
	ctx := context.Background()

	res, _ := s.CreateRecord(ctx, "cbt_sessions", Record{"user_id": "u1", "step": "situation"})
	rec := res.Record.Clone()
	rec["step"] = "reframe"

	remote.down = true
	up, err := s.UpsertRecord(ctx, "cbt_sessions", rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.PersistedRemotely || up.Record.ID() != res.Record.ID() {
		t.Errorf("expected queued update keeping id %q, got %+v", res.Record.ID(), up)
	}

	remote.down = false
	if _, err := s.SyncLocalData(ctx, "cbt_sessions"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.count("cbt_sessions") != 1 {
		t.Errorf("expected update in place, got %d rows", remote.count("cbt_sessions"))
	}
	recs, _ := s.GetRecords(ctx, "cbt_sessions", Query{UserID: "u1", ID: res.Record.ID()})
	if len(recs) != 1 || recs[0]["step"] != "reframe" {
		t.Errorf("expected replayed update, got %v", recs)
	}
}

func TestQueuedUpsertHidesStaleAuditCopy(t *testing.T) {
	remote := newFakeRemote()
	s := openTestStore(t, remote)
	ctx := context.Background()

	res, err := s.CreateRecord(ctx, "cbt_sessions", Record{"user_id": "u1", "step": "situation"})
	if err != nil || !res.PersistedRemotely {
		t.Fatalf("expected remote create, got %+v, %v", res, err)
	}
	rec := res.Record.Clone()
	rec["step"] = "thought"

	remote.down = true
	if _, err := s.UpsertRecord(ctx, "cbt_sessions", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, err := s.GetRecords(ctx, "cbt_sessions", Query{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 session, got %d: %v", len(recs), recs)
	}
	if recs[0].ID() != res.Record.ID() || recs[0]["step"] != "thought" {
		t.Errorf("expected the queued update, got %v", recs[0])
	}

	page, _ := s.GetRecords(ctx, "cbt_sessions", Query{UserID: "u1", Offset: 1})
	if len(page) != 0 {
		t.Errorf("expected empty second page, got %v", page)
	}
}

func TestConcurrentCreatesKeepEveryRecord(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1", "n": i}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n, _ := s.Pending("emotion_entries"); n != 20 {
		t.Errorf("expected 20 pending records, got %d", n)
	}
}

func TestWorkerSinglePass(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	s := openTestStore(t, remote)
	ctx := context.Background()
	s.CreateRecord(ctx, "emotion_entries", Record{"user_id": "u1"})

	remote.down = false
	NewWorker(s, 0, nil).Run(ctx)

	if n, _ := s.Pending("emotion_entries"); n != 0 {
		t.Errorf("expected worker to drain backlog, got %d", n)
	}
}

func TestOfflineKeepsEverythingOnDevice(t *testing.T) {
	s := openTestStore(t, Offline{})
	ctx := context.Background()

	res, err := s.CreateRecord(ctx, "emotion_entries", entry("u1", "hello", time.Time{}))
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if res.PersistedRemotely || !res.Record.IsLocal() {
		t.Fatalf("expected a local record, got %+v", res)
	}

	rep, err := s.SyncLocalData(ctx, "emotion_entries")
	if err != nil {
		t.Fatalf("SyncLocalData: %v", err)
	}
	if rep.Synced != 0 || rep.Remaining != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}
