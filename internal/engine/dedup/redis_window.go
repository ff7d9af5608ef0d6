package dedup

import (
	"context"
	"fmt"
	"time"

	redisstore "github.com/dkowalczyk/pocketoption-engine/internal/cache/redis"
)

// DistributedWindow backs the fingerprint dedup check with Redis so
// duplicate-trade suppression survives process restarts and is shared
// across multiple engine instances trading the same account. It reuses
// the cache/redis sliding-window admission counter with limit=1: the
// first Allow call for a fingerprint within the window succeeds, every
// later one is a duplicate.
type DistributedWindow struct {
	limiter *redisstore.RateLimiter
	ttl     time.Duration
}

// NewDistributedWindow builds a DistributedWindow on top of an existing
// Redis-backed rate limiter.
func NewDistributedWindow(limiter *redisstore.RateLimiter, ttl time.Duration) *DistributedWindow {
	return &DistributedWindow{limiter: limiter, ttl: ttl}
}

// Check reports whether fingerprint has already been admitted within the
// window. Unlike the in-process Window, the distributed variant cannot
// cheaply report the original trade id (the Lua script only tracks
// counts, not values) — callers that need it must also consult the
// in-process Window or the audit log.
func (d *DistributedWindow) Check(ctx context.Context, fingerprint string) (ok bool, err error) {
	allowed, err := d.limiter.Allow(ctx, dedupKey(fingerprint), 1, d.ttl)
	if err != nil {
		return false, fmt.Errorf("dedup: distributed check %s: %w", fingerprint, err)
	}
	return allowed, nil
}

func dedupKey(fingerprint string) string {
	return "dedup:" + fingerprint
}
