package module

import (
	"log/slog"
	"sync"
	"time"
)

// waitlistEntry is one outstanding interest registered against a trade id.
type waitlistEntry struct {
	cmd       Command
	addedAt   time.Time
	closedAt  *time.Time // set once the trade id has been observed closed
}

// Waitlist tracks interest in trade ids whose resolution arrives on a
// server-initiated frame with no caller-chosen correlation id (the Deals
// module's CheckResult/Cancel contract, §4.3.2). It supports explicit
// cancellation, TTL-based reap of entries long closed, and a capacity
// bound with oldest-entry eviction.
type Waitlist struct {
	mu       sync.Mutex
	entries  map[string]*waitlistEntry
	order    []string // insertion order, for oldest-eviction
	capacity int
	retain   time.Duration
	logger   *slog.Logger
}

// NewWaitlist builds a waitlist with the given capacity bound and
// post-close retention window.
func NewWaitlist(capacity int, retain time.Duration, logger *slog.Logger) *Waitlist {
	return &Waitlist{
		entries:  make(map[string]*waitlistEntry),
		capacity: capacity,
		retain:   retain,
		logger:   logger.With(slog.String("component", "waitlist")),
	}
}

// Add registers interest in tradeID under cmd. If the waitlist is at
// capacity, the single oldest entry is evicted (with an error reply to its
// caller) to make room.
func (w *Waitlist) Add(tradeID string, cmd Command) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entries[tradeID]; !exists {
		if w.capacity > 0 && len(w.entries) >= w.capacity {
			w.evictOldestLocked()
		}
		w.order = append(w.order, tradeID)
	}
	w.entries[tradeID] = &waitlistEntry{cmd: cmd, addedAt: time.Now()}
}

func (w *Waitlist) evictOldestLocked() {
	for len(w.order) > 0 {
		oldest := w.order[0]
		w.order = w.order[1:]
		if e, ok := w.entries[oldest]; ok {
			delete(w.entries, oldest)
			e.cmd.reply(nil, errWaitlistEvicted(oldest))
			w.logger.Warn("waitlist capacity exceeded, evicted oldest entry", slog.String("trade_id", oldest))
			return
		}
	}
}

// Resolve delivers a result to the caller waiting on tradeID, if any, and
// marks the entry closed so it becomes eligible for TTL reap rather than
// being removed immediately — a late duplicate resolution for the same
// trade id is thus a no-op, not a double-reply panic.
func (w *Waitlist) Resolve(tradeID string, value any, err error) bool {
	w.mu.Lock()
	e, ok := w.entries[tradeID]
	if !ok || e.closedAt != nil {
		w.mu.Unlock()
		return false
	}
	now := time.Now()
	e.closedAt = &now
	w.mu.Unlock()

	e.cmd.reply(value, err)
	return true
}

// Cancel removes tradeID from the waitlist without replying, used when the
// caller has already received a timeout error and is no longer listening.
func (w *Waitlist) Cancel(tradeID string) {
	w.mu.Lock()
	delete(w.entries, tradeID)
	w.mu.Unlock()
}

// Reap drops every entry that has been closed for longer than the
// configured retention window and returns how many were removed.
func (w *Waitlist) Reap(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	reaped := 0
	for id, e := range w.entries {
		if e.closedAt != nil && now.Sub(*e.closedAt) > w.retain {
			delete(w.entries, id)
			reaped++
		}
	}
	return reaped
}

// Len reports the current entry count.
func (w *Waitlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func errWaitlistEvicted(tradeID string) error {
	return &waitlistEvictedError{tradeID: tradeID}
}

type waitlistEvictedError struct{ tradeID string }

func (e *waitlistEvictedError) Error() string {
	return "waitlist: entry for trade " + e.tradeID + " evicted at capacity"
}
