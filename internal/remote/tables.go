// Package remote is the PostgreSQL-backed table service the sync store
// writes to first.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"mindjournal/internal/syncstore"
)

const (
	TableEmotionEntries = "emotion_entries"
	TableCBTSessions    = "cbt_sessions"
	TableConversations  = "conversations"
)

var ErrUnknownTable = errors.New("unknown table")

// summaryColumns are payload fields also stored in clear columns so the
// database can aggregate them. They stay in the payload too.
var summaryColumns = map[string][]string{
	TableEmotionEntries: {"primary_emotion", "intensity"},
	TableCBTSessions:    {"step"},
	TableConversations:  {"role"},
}

// Sealer encrypts payloads at rest. A nil Sealer stores plain JSON.
type Sealer interface {
	SealPayload(plaintext string) (string, error)
	OpenPayload(sealed string) (string, error)
}

// Tables implements syncstore.RemoteTables. Every table shares the shape
// (id, user_id, created_at, payload) plus its summary columns.
type Tables struct {
	db     *sqlx.DB
	sealer Sealer
}

var _ syncstore.RemoteTables = (*Tables)(nil)

func NewTables(db *sqlx.DB, sealer Sealer) *Tables {
	return &Tables{db: db, sealer: sealer}
}

// Known reports whether table is served remotely.
func Known(table string) bool {
	_, ok := summaryColumns[table]
	return ok
}

type row struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	Payload   string    `db:"payload"`
}

func (t *Tables) Insert(ctx context.Context, table string, rec syncstore.Record) (syncstore.Record, error) {
	if !Known(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	cols, args, err := t.columns(table, rec)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id, user_id, created_at, payload`,
		table, strings.Join(cols, ", "), placeholders(len(cols)))

	var r row
	if err := t.db.QueryRowxContext(ctx, query, args...).StructScan(&r); err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", table, err)
	}
	return t.toRecord(r)
}

func (t *Tables) Upsert(ctx context.Context, table string, rec syncstore.Record) (syncstore.Record, error) {
	if !Known(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	id, err := strconv.ParseInt(rec.ID(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("upsert into %s: invalid id %q", table, rec.ID())
	}
	cols, args, err := t.columns(table, rec)
	if err != nil {
		return nil, err
	}
	cols = append([]string{"id"}, cols...)
	args = append([]any{id}, args...)

	updates := make([]string, 0, len(cols))
	for _, c := range cols[1:] {
		if c == "created_at" {
			continue
		}
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (id) DO UPDATE SET %s
		RETURNING id, user_id, created_at, payload`,
		table, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(updates, ", "))

	var r row
	if err := t.db.QueryRowxContext(ctx, query, args...).StructScan(&r); err != nil {
		return nil, fmt.Errorf("upserting into %s: %w", table, err)
	}
	return t.toRecord(r)
}

func (t *Tables) Select(ctx context.Context, table string, q syncstore.Query) ([]syncstore.Record, error) {
	if !Known(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	query, args, ok := selectQuery(table, q)
	if !ok {
		return []syncstore.Record{}, nil
	}

	var rows []row
	if err := t.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", table, err)
	}
	out := make([]syncstore.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := t.toRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// selectQuery builds the filtered, ordered, paginated read. ok is false when
// the query cannot match anything, such as a non-numeric id.
func selectQuery(table string, q syncstore.Query) (query string, args []any, ok bool) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT id, user_id, created_at, payload FROM %s WHERE user_id = $1`, table)
	args = append(args, q.UserID)

	if q.ID != "" {
		id, err := strconv.ParseInt(q.ID, 10, 64)
		if err != nil {
			return "", nil, false
		}
		args = append(args, id)
		fmt.Fprintf(&b, ` AND id = $%d`, len(args))
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC`)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, ` OFFSET $%d`, len(args))
	}
	return b.String(), args, true
}

// columns splits rec into the stored columns and their values. id is never
// included; created_at defaults to now.
func (t *Tables) columns(table string, rec syncstore.Record) ([]string, []any, error) {
	userID := rec.UserID()
	if userID == "" {
		return nil, nil, errors.New("record has no user_id")
	}
	created := rec.CreatedAt()
	if created.IsZero() {
		created = time.Now().UTC()
	}

	payload, err := t.encodePayload(rec)
	if err != nil {
		return nil, nil, err
	}

	cols := []string{"user_id", "created_at", "payload"}
	args := []any{userID, created, payload}
	for _, c := range summaryColumns[table] {
		cols = append(cols, c)
		args = append(args, summaryValue(rec[c]))
	}
	return cols, args, nil
}

func summaryValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return int64(x)
	case int:
		return int64(x)
	case string, int64, bool:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func (t *Tables) encodePayload(rec syncstore.Record) (string, error) {
	body := rec.Clone()
	delete(body, "id")
	delete(body, "user_id")
	delete(body, "created_at")

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	if t.sealer == nil {
		return string(data), nil
	}
	sealed, err := t.sealer.SealPayload(string(data))
	if err != nil {
		return "", fmt.Errorf("sealing payload: %w", err)
	}
	return sealed, nil
}

func (t *Tables) toRecord(r row) (syncstore.Record, error) {
	payload := r.Payload
	if t.sealer != nil {
		opened, err := t.sealer.OpenPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("opening payload of row %d: %w", r.ID, err)
		}
		payload = opened
	}

	rec := syncstore.Record{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decoding payload of row %d: %w", r.ID, err)
		}
	}
	rec["id"] = strconv.FormatInt(r.ID, 10)
	rec["user_id"] = r.UserID
	rec["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	return rec, nil
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(ps, ", ")
}
