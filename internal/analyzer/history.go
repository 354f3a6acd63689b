package analyzer

import (
	"sync"
	"time"
)

const (
	// HistoryLimit is the number of days kept in a rolling history.
	HistoryLimit = 30
	// ReportWindow is the number of most recent entries a report covers.
	ReportWindow = 7

	dateLayout = "2006-01-02"
)

type HistoryEntry struct {
	Date      string    `json:"date"`
	Emotions  Vector    `json:"emotions"`
	Context   string    `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a rolling window holding at most one entry per calendar day.
// Entries are kept in insertion order and evicted from the front.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	now     func() time.Time
}

func NewHistory() *History {
	return &History{now: time.Now}
}

// NewHistoryWithClock returns a history whose day keys come from now.
func NewHistoryWithClock(now func() time.Time) *History {
	return &History{now: now}
}

// SaveEmotionData records emotions for the current day, replacing any entry
// already stored for that day.
func (h *History) SaveEmotionData(emotions Vector, context string) HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := h.now()
	entry := HistoryEntry{
		Date:      ts.Format(dateLayout),
		Emotions:  copyVector(emotions),
		Context:   context,
		Timestamp: ts,
	}
	h.upsert(entry)
	return entry
}

func (h *History) upsert(entry HistoryEntry) {
	for i := range h.entries {
		if h.entries[i].Date == entry.Date {
			h.entries[i] = entry
			return
		}
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > HistoryLimit {
		h.entries = h.entries[len(h.entries)-HistoryLimit:]
	}
}

// Restore replaces the window with entries, applying the same per-day and
// length rules as SaveEmotionData in the given order.
func (h *History) Restore(entries []HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = nil
	for _, e := range entries {
		e.Emotions = copyVector(e.Emotions)
		h.upsert(e)
	}
}

// Entries returns a copy of the window.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Recent returns a copy of the last n entries.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]HistoryEntry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func copyVector(v Vector) Vector {
	out := make(Vector, len(v))
	for e, w := range v {
		out[e] = w
	}
	return out
}

// Histories keeps one rolling history per user.
type Histories struct {
	mu     sync.Mutex
	byUser map[string]*History
	now    func() time.Time
}

func NewHistories(now func() time.Time) *Histories {
	if now == nil {
		now = time.Now
	}
	return &Histories{byUser: make(map[string]*History), now: now}
}

// For returns the history for userID, creating it on first use. The boolean
// reports whether the history already existed.
func (hs *Histories) For(userID string) (*History, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if h, ok := hs.byUser[userID]; ok {
		return h, true
	}
	h := NewHistoryWithClock(hs.now)
	hs.byUser[userID] = h
	return h, false
}
