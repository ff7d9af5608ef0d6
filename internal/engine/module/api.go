package module

import (
	"context"
	"log/slog"
	"sync"
)

// Command is one command sent through an API module's command channel. Req
// is the module-specific payload (e.g. an OpenOrder); Reply is this
// request's dedicated one-shot sink — never a channel shared with any
// other caller, so a response addressed to an abandoned caller can never
// be misdelivered to the next one (§4.3.2).
type Command struct {
	Req   any
	Reply chan Result
}

// Result is what a Command's Reply sink receives exactly once.
type Result struct {
	Value any
	Err   error
}

// NewCommand builds a Command with a fresh, single-use reply sink.
func NewCommand(req any) (Command, <-chan Result) {
	ch := make(chan Result, 1)
	return Command{Req: req, Reply: ch}, ch
}

// reply delivers a single result to c's sink. Safe to call at most once;
// a second call would block forever against the buffer-1 channel's single
// slot, so callers must guarantee exactly-once delivery per command.
func (c Command) reply(v any, err error) {
	c.Reply <- Result{Value: v, Err: err}
}

// Await blocks on ch until a result arrives or ctx is done. On ctx
// cancellation it returns ctx.Err(); the caller is responsible for also
// issuing an explicit cancel command into the module if ch corresponds to
// a waitlist-backed operation (§5 cancellation contract).
func Await(ctx context.Context, ch <-chan Result) (any, error) {
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CorrelationTracker maps a caller-chosen or server-echoed correlation id
// to the pending Command awaiting its response. It is the request/response
// correlation primitive used by Trades and Candles (correlate by request
// id) distinct from Deals' trade-id waitlist below.
type CorrelationTracker struct {
	mu      sync.Mutex
	pending map[string]Command
	logger  *slog.Logger
}

// NewCorrelationTracker builds an empty tracker.
func NewCorrelationTracker(logger *slog.Logger) *CorrelationTracker {
	return &CorrelationTracker{
		pending: make(map[string]Command),
		logger:  logger.With(slog.String("component", "correlation_tracker")),
	}
}

// Track records cmd as pending under id, to be resolved by a later Resolve
// or explicitly dropped by Cancel.
func (t *CorrelationTracker) Track(id string, cmd Command) {
	t.mu.Lock()
	t.pending[id] = cmd
	t.mu.Unlock()
}

// Resolve delivers (value, err) to the command pending under id, if any.
// Reports whether a pending command was found; an unmatched id (a
// response the engine wasn't waiting on) is not an error, just a no-op.
func (t *CorrelationTracker) Resolve(id string, value any, err error) bool {
	t.mu.Lock()
	cmd, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("resolve for unknown correlation id", slog.String("id", id))
		return false
	}
	cmd.reply(value, err)
	return true
}

// Cancel drops a pending command without replying, used when a caller
// abandons the wait (timeout or ctx cancellation) so the slot is freed and
// a later stray response for the same id is ignored (§5 cancellation
// contract: the handle must send an explicit cancel before returning the
// timeout error).
func (t *CorrelationTracker) Cancel(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Len reports the number of in-flight correlations, used in diagnostics.
func (t *CorrelationTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
