package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// ReconnectCallback runs on every entry to Connected (including the first).
// It receives the shared state and the outbound frame channel, and has a
// bounded deadline to complete: subscription re-subscribe, trade
// reconciliation, and validator replay are all registered this way.
type ReconnectCallback func(ctx context.Context, state *domain.SharedState, out chan<- domain.Frame) error

type callbackRegistry struct {
	mu        sync.Mutex
	callbacks []ReconnectCallback
}

func (c *callbackRegistry) register(cb ReconnectCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *callbackRegistry) snapshot() []ReconnectCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ReconnectCallback, len(c.callbacks))
	copy(out, c.callbacks)
	return out
}

// runReconnectCallbacks runs every registered callback in registration order. A
// callback that errors is logged but never fails the connection; each gets
// its own bounded context derived from ctx.
func (r *Runner) runReconnectCallbacks(ctx context.Context) {
	for _, cb := range r.callbacks.snapshot() {
		cbCtx, cancel := context.WithTimeout(ctx, r.cfg.CallbackDeadline)
		err := cb(cbCtx, r.shared, r.outbox)
		cancel()
		if err != nil {
			r.logger.Warn("reconnect callback failed", slog.String("error", err.Error()))
		}
	}
}
