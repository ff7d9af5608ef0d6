// Package dedup implements the Trades module's idempotency check (§7):
// two OpenOrder commands with the same fingerprint
// (asset|direction|duration|minor-units-amount) arriving within a
// configured window are treated as one trade, the second rejected with
// domain.Duplicate.
package dedup

import (
	"sync"
	"time"
)

// Window prevents duplicate trade fingerprints from being accepted more
// than once within a configurable TTL. Safe for concurrent use. This is
// the in-process variant; Redis-backed distributed dedup lives in
// redis_window.go for multi-instance deployments.
type Window struct {
	mu   sync.Mutex
	seen map[string]entry
	ttl  time.Duration
}

type entry struct {
	firstTradeID string
	seenAt       time.Time
}

// New creates a Window that considers a fingerprint a duplicate if it has
// been seen within ttl.
func New(ttl time.Duration) *Window {
	return &Window{seen: make(map[string]entry), ttl: ttl}
}

// Check records fingerprint if this is the first time it's seen within the
// window (returning ok=true for the caller to proceed with tradeID), or
// reports the original trade id if it's a duplicate (ok=false).
func (w *Window) Check(fingerprint, tradeID string) (originalTradeID string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if e, exists := w.seen[fingerprint]; exists && now.Sub(e.seenAt) < w.ttl {
		return e.firstTradeID, false
	}

	w.seen[fingerprint] = entry{firstTradeID: tradeID, seenAt: now}
	return "", true
}

// Cleanup removes entries older than the TTL. A Window is not self-reaping:
// expired entries stay in memory until Cleanup is called.
func (w *Window) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for fp, e := range w.seen {
		if now.Sub(e.seenAt) >= w.ttl {
			delete(w.seen, fp)
		}
	}
}

// Len reports the number of tracked fingerprints, for diagnostics.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
