// Package syncstore persists domain records remote-first with a durable
// on-device fallback, and replays the device backlog when the remote table
// service is reachable again.
package syncstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	backlogPrefix = "backlog:"
	cachePrefix   = "cache:"

	// upsertMarker flags backlog records that must be replayed as an upsert
	// keeping their remote id.
	upsertMarker = "_upsert"

	DefaultCacheLimit = 500
)

// RemoteTables is the remote table service. Any returned error is treated as
// "unreachable" without inspecting its kind.
type RemoteTables interface {
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	Select(ctx context.Context, table string, q Query) ([]Record, error)
	Upsert(ctx context.Context, table string, rec Record) (Record, error)
}

// DeviceStore is the durable key-value store on the device.
type DeviceStore interface {
	Get(key string, dst any) (bool, error)
	Set(key string, v any) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}

// Query selects a user's records newest first. ID narrows the result to one
// record. Limit <= 0 means no limit.
type Query struct {
	UserID string
	ID     string
	Limit  int
	Offset int
}

// Result is the outcome of a write. PersistedRemotely is false when the
// record only reached the device backlog.
type Result struct {
	Record            Record `json:"record"`
	PersistedRemotely bool   `json:"persisted_remotely"`
}

type SyncReport struct {
	Table     string `json:"table"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Remaining int    `json:"remaining"`
}

// Store writes remote-first and falls back to the device. Operations on one
// table are serialised; tables are independent of each other.
type Store struct {
	remote     RemoteTables
	local      DeviceStore
	logger     *zap.Logger
	now        func() time.Time
	cacheLimit int

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	lastID int64
}

func New(remote RemoteTables, local DeviceStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		remote:     remote,
		local:      local,
		logger:     logger,
		now:        time.Now,
		cacheLimit: DefaultCacheLimit,
		locks:      make(map[string]*sync.Mutex),
	}
}

func backlogKey(table string) string { return backlogPrefix + table }
func cacheKey(table string) string   { return cachePrefix + table }

func (s *Store) tableLock(table string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[table]
	if !ok {
		l = &sync.Mutex{}
		s.locks[table] = l
	}
	return l
}

// localID returns a timestamp-based id, bumped when the clock has not moved
// since the previous call.
func (s *Store) localID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixNano()
	if n <= s.lastID {
		n = s.lastID + 1
	}
	s.lastID = n
	return LocalIDPrefix + strconv.FormatInt(n, 10)
}

// CreateRecord inserts rec remotely and keeps an audit copy on the device.
// When the remote insert fails the record gets a local id and joins the
// table's backlog; that is still a successful write. Only a device failure
// is returned as an error.
func (s *Store) CreateRecord(ctx context.Context, table string, rec Record) (Result, error) {
	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	rec = rec.Clone()
	delete(rec, "id")
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}

	saved, err := s.remote.Insert(ctx, table, rec)
	if err == nil {
		s.cacheRecords(table, saved)
		return Result{Record: saved, PersistedRemotely: true}, nil
	}

	s.logger.Warn("remote insert failed, saving to device backlog",
		zap.String("table", table), zap.Error(err))

	rec["id"] = s.localID()
	if err := s.appendBacklog(table, rec); err != nil {
		s.logger.Error("device backlog write failed", zap.String("table", table), zap.Error(err))
		return Result{}, fmt.Errorf("saving %s record locally: %w", table, err)
	}
	return Result{Record: rec, PersistedRemotely: false}, nil
}

// UpsertRecord updates rec by id. Records that only exist on the device are
// updated in place in the backlog. A failed remote upsert queues the record
// for replay as an upsert.
func (s *Store) UpsertRecord(ctx context.Context, table string, rec Record) (Result, error) {
	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	rec = rec.Clone()
	if rec.ID() == "" {
		return Result{}, errors.New("upsert requires an id")
	}

	if !rec.IsLocal() {
		saved, err := s.remote.Upsert(ctx, table, rec)
		if err == nil {
			s.cacheRecords(table, saved)
			return Result{Record: saved, PersistedRemotely: true}, nil
		}
		s.logger.Warn("remote upsert failed, queueing on device",
			zap.String("table", table), zap.String("id", rec.ID()), zap.Error(err))
		rec[upsertMarker] = true
	}

	if err := s.replaceBacklog(table, rec); err != nil {
		s.logger.Error("device backlog write failed", zap.String("table", table), zap.Error(err))
		return Result{}, fmt.Errorf("saving %s record locally: %w", table, err)
	}
	delete(rec, upsertMarker)
	return Result{Record: rec, PersistedRemotely: false}, nil
}

// GetRecords reads a user's records newest first. When the remote read fails
// the device backlog and audit copies are filtered, sorted and paginated the
// same way. Records with a local id are always read from the device.
func (s *Store) GetRecords(ctx context.Context, table string, q Query) ([]Record, error) {
	if q.ID == "" || !IsLocalID(q.ID) {
		recs, err := s.remote.Select(ctx, table, q)
		if err == nil {
			return recs, nil
		}
		s.logger.Warn("remote select failed, reading device copy",
			zap.String("table", table), zap.Error(err))
	}

	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	var backlog, cache []Record
	if _, err := s.local.Get(backlogKey(table), &backlog); err != nil {
		return nil, fmt.Errorf("reading %s backlog: %w", table, err)
	}
	if _, err := s.local.Get(cacheKey(table), &cache); err != nil {
		return nil, fmt.Errorf("reading %s cache: %w", table, err)
	}

	// A queued upsert supersedes the audit copy of the same row.
	queued := make(map[string]bool, len(backlog))
	for _, rec := range backlog {
		queued[rec.ID()] = true
	}
	merged := backlog
	for _, rec := range cache {
		if !queued[rec.ID()] {
			merged = append(merged, rec)
		}
	}

	var out []Record
	for _, rec := range merged {
		if q.UserID != "" && rec.UserID() != q.UserID {
			continue
		}
		if q.ID != "" && rec.ID() != q.ID {
			continue
		}
		delete(rec, upsertMarker)
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return paginate(out, q.Offset, q.Limit), nil
}

// SyncLocalData replays the table's backlog against the remote service.
// Each record is inserted without its local id; successes are dropped and
// failures kept. The retained subset replaces the whole backlog.
func (s *Store) SyncLocalData(ctx context.Context, table string) (SyncReport, error) {
	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	report := SyncReport{Table: table}
	var backlog []Record
	if _, err := s.local.Get(backlogKey(table), &backlog); err != nil {
		return report, fmt.Errorf("reading %s backlog: %w", table, err)
	}
	report.Attempted = len(backlog)
	if len(backlog) == 0 {
		return report, nil
	}

	var kept, synced []Record
	for _, rec := range backlog {
		saved, err := s.replay(ctx, table, rec)
		if err != nil {
			s.logger.Warn("sync attempt failed, keeping record",
				zap.String("table", table), zap.String("id", rec.ID()), zap.Error(err))
			kept = append(kept, rec)
			continue
		}
		synced = append(synced, saved)
	}

	if err := s.writeBacklog(table, kept); err != nil {
		return report, fmt.Errorf("rewriting %s backlog: %w", table, err)
	}
	s.cacheRecords(table, synced...)

	report.Synced = len(synced)
	report.Remaining = len(kept)
	if report.Synced > 0 {
		s.logger.Info("synced device backlog",
			zap.String("table", table), zap.Int("synced", report.Synced), zap.Int("remaining", report.Remaining))
	}
	return report, nil
}

func (s *Store) replay(ctx context.Context, table string, rec Record) (Record, error) {
	payload := rec.Clone()
	if payload[upsertMarker] == true {
		delete(payload, upsertMarker)
		return s.remote.Upsert(ctx, table, payload)
	}
	delete(payload, "id")
	return s.remote.Insert(ctx, table, payload)
}

// SyncAll replays every table that has a backlog.
func (s *Store) SyncAll(ctx context.Context) ([]SyncReport, error) {
	tables, err := s.Tables()
	if err != nil {
		return nil, err
	}
	var reports []SyncReport
	var errs []error
	for _, table := range tables {
		rep, err := s.SyncLocalData(ctx, table)
		if err != nil {
			errs = append(errs, err)
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

// Tables lists tables with a backlog on the device.
func (s *Store) Tables() ([]string, error) {
	keys, err := s.local.Keys(backlogPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing backlogs: %w", err)
	}
	tables := make([]string, 0, len(keys))
	for _, k := range keys {
		tables = append(tables, strings.TrimPrefix(k, backlogPrefix))
	}
	return tables, nil
}

// Pending returns the number of records waiting in the table's backlog.
func (s *Store) Pending(table string) (int, error) {
	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()
	var backlog []Record
	if _, err := s.local.Get(backlogKey(table), &backlog); err != nil {
		return 0, fmt.Errorf("reading %s backlog: %w", table, err)
	}
	return len(backlog), nil
}

// Status returns pending counts per table.
func (s *Store) Status() (map[string]int, error) {
	tables, err := s.Tables()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		n, err := s.Pending(t)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}

func (s *Store) appendBacklog(table string, rec Record) error {
	var backlog []Record
	if _, err := s.local.Get(backlogKey(table), &backlog); err != nil {
		return err
	}
	return s.writeBacklog(table, append(backlog, rec))
}

// replaceBacklog swaps the backlog entry with rec's id, appending when none
// matches.
func (s *Store) replaceBacklog(table string, rec Record) error {
	var backlog []Record
	if _, err := s.local.Get(backlogKey(table), &backlog); err != nil {
		return err
	}
	for i := range backlog {
		if backlog[i].ID() == rec.ID() {
			backlog[i] = rec
			return s.writeBacklog(table, backlog)
		}
	}
	return s.writeBacklog(table, append(backlog, rec))
}

func (s *Store) writeBacklog(table string, backlog []Record) error {
	if len(backlog) == 0 {
		return s.local.Remove(backlogKey(table))
	}
	return s.local.Set(backlogKey(table), backlog)
}

// cacheRecords keeps audit copies of remotely stored rows for offline reads.
// Failures are logged only: the rows are already safe remotely.
func (s *Store) cacheRecords(table string, recs ...Record) {
	if len(recs) == 0 {
		return
	}
	var cache []Record
	if _, err := s.local.Get(cacheKey(table), &cache); err != nil {
		s.logger.Warn("reading audit cache failed", zap.String("table", table), zap.Error(err))
		return
	}
	for _, rec := range recs {
		replaced := false
		for i := range cache {
			if cache[i].ID() == rec.ID() {
				cache[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			cache = append(cache, rec)
		}
	}
	if s.cacheLimit > 0 && len(cache) > s.cacheLimit {
		cache = cache[len(cache)-s.cacheLimit:]
	}
	if err := s.local.Set(cacheKey(table), cache); err != nil {
		s.logger.Warn("writing audit cache failed", zap.String("table", table), zap.Error(err))
	}
}

func sortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt().After(recs[j].CreatedAt())
	})
}

func paginate(recs []Record, offset, limit int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []Record{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
