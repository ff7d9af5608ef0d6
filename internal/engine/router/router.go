// Package router dispatches inbound frames to registered rules and their
// associated module inboxes, applying per-inbox back-pressure policy
// without letting one full inbox stall delivery to the others.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/rule"
)

// BackpressurePolicy governs what happens when a route's inbox is full.
type BackpressurePolicy int

const (
	// BlockWithTimeoutThenDrop waits up to a configured timeout for room in
	// the inbox, then logs and drops the frame. This is the default policy.
	BlockWithTimeoutThenDrop BackpressurePolicy = iota
	// BlockUnbounded waits indefinitely (until ctx cancellation), used for
	// trade-critical inboxes where dropping a frame is worse than latency.
	BlockUnbounded
)

// DefaultDropTimeout is the wait bound for BlockWithTimeoutThenDrop routes.
const DefaultDropTimeout = 500 * time.Millisecond

// Route binds one rule to one module inbox. Token is an optional cheap
// classifier (a control byte for control frames, an event name for framed
// text events) used by the index built once route count passes
// linearScanThreshold; routes that leave it empty are always included in
// the scan (pairing rules and raw-handler predicates can't be classified
// by a fixed token up front).
type Route struct {
	Name    string
	Rule    rule.Rule
	Inbox   chan<- domain.Frame
	Policy  BackpressurePolicy
	Timeout time.Duration // used only by BlockWithTimeoutThenDrop; defaults to DefaultDropTimeout
	Kind    domain.FrameKind
	Token   string
}

// OnReceive is the middleware hook invoked before rule evaluation. An error
// aborts processing of the current frame (§4.6).
type OnReceive func(f domain.Frame) error

// Router evaluates every registered route against each inbound frame in
// registration order, broadcasting to every route whose rule matches while
// preserving per-inbox FIFO (§4.2, §5 ordering guarantee 1).
type Router struct {
	logger *slog.Logger

	mu     sync.RWMutex
	routes []Route

	// indexed buckets, built lazily once len(routes) crosses the linear-scan
	// threshold; a cheap token-keyed fast path for text frames carrying a
	// recognizable event name, plus the routes that declared no token.
	indexed     bool
	textByToken map[string][]int
	binaryAll   []int
	fallback    []int

	onReceive []OnReceive
}

// linearScanThreshold is the rule count above which the router indexes
// routes by frame class and cheap token instead of scanning every route.
const linearScanThreshold = 32

// New builds an empty router.
func New(logger *slog.Logger) *Router {
	return &Router{logger: logger.With(slog.String("component", "router"))}
}

// Register adds a route. Safe to call before Dispatch starts; registering
// after dispatch has begun is also safe (routes slice is copied under
// lock) but invalidates any built index, which is rebuilt lazily.
func (r *Router) Register(route Route) {
	if route.Timeout <= 0 {
		route.Timeout = DefaultDropTimeout
	}
	r.mu.Lock()
	r.routes = append(r.routes, route)
	r.indexed = false
	r.mu.Unlock()
}

// Use appends a middleware on_receive hook, invoked in registration order
// before any rule is evaluated.
func (r *Router) Use(h OnReceive) {
	r.mu.Lock()
	r.onReceive = append(r.onReceive, h)
	r.mu.Unlock()
}

// Routes returns a snapshot copy of the registered routes, for diagnostics
// callers that need route names and rule references (e.g. latch state
// reporting) without being able to mutate the live route table.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// ResetLatches calls Reset on every registered rule, invoked by the runner
// on entry to Connected (§4.4) so stateful pairing rules never carry a
// half-consumed latch across a reconnect.
func (r *Router) ResetLatches() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, route := range r.routes {
		route.Rule.Reset()
	}
}

// Dispatch runs on_receive middleware then evaluates every route against f,
// delivering to every inbox whose rule matched. ctx bounds BlockUnbounded
// waits (shutdown signal) and is best-effort for the timeout policy too.
func (r *Router) Dispatch(ctx context.Context, f domain.Frame) {
	r.mu.RLock()
	hooks := r.onReceive
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := h(f); err != nil {
			r.logger.Warn("on_receive middleware aborted frame", slog.String("error", err.Error()))
			return
		}
	}

	for _, route := range r.candidates(f) {
		if !route.Rule.Match(f) {
			continue
		}
		r.deliver(ctx, route, f)
	}
}

// candidates returns the routes worth evaluating against f: every route
// when below the indexing threshold, otherwise the routes whose declared
// Kind/Token could plausibly match plus every route that left Token empty.
func (r *Router) candidates(f domain.Frame) []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.routes) <= linearScanThreshold {
		return r.routes
	}
	if !r.indexed {
		r.mu.RUnlock()
		r.buildIndex()
		r.mu.RLock()
	}

	var idxs []int
	switch f.Kind {
	case domain.FrameText:
		idxs = append(idxs, r.textByToken[cheapToken(f)]...)
	case domain.FrameBinary:
		idxs = append(idxs, r.binaryAll...)
	}
	idxs = append(idxs, r.fallback...)

	out := make([]Route, 0, len(idxs))
	seen := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, r.routes[i])
	}
	return out
}

// cheapToken extracts a text frame's classifying token: PocketOption-style
// framed events (`<id>-["eventName", ...]` or `<id>["eventName", ...]`)
// yield the leading event name; anything else yields the whole payload,
// which only matches routes that registered that exact literal as Token.
func cheapToken(f domain.Frame) string {
	s := f.String()
	start := -1
	for i, c := range s {
		if c == '"' {
			start = i + 1
			break
		}
		if c == '[' && (i+1 >= len(s) || s[i+1] != '"') {
			break
		}
	}
	if start < 0 {
		return s
	}
	end := start
	for end < len(s) && s[end] != '"' {
		end++
	}
	if end <= start {
		return s
	}
	return s[start:end]
}

// buildIndex groups route indices by frame kind and token. Called with no
// lock held; re-acquires the write lock internally.
func (r *Router) buildIndex() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexed {
		return
	}
	r.textByToken = make(map[string][]int)
	r.binaryAll = nil
	r.fallback = nil
	for i, route := range r.routes {
		switch {
		case route.Token != "" && route.Kind == domain.FrameText:
			r.textByToken[route.Token] = append(r.textByToken[route.Token], i)
		case route.Kind == domain.FrameBinary:
			r.binaryAll = append(r.binaryAll, i)
		default:
			r.fallback = append(r.fallback, i)
		}
	}
	r.indexed = true
}

func (r *Router) deliver(ctx context.Context, route Route, f domain.Frame) {
	switch route.Policy {
	case BlockUnbounded:
		select {
		case route.Inbox <- f:
		case <-ctx.Done():
		}
	default: // BlockWithTimeoutThenDrop
		timer := time.NewTimer(route.Timeout)
		defer timer.Stop()
		select {
		case route.Inbox <- f:
		case <-timer.C:
			r.logger.Warn("route inbox full, dropping frame",
				slog.String("route", route.Name), slog.String("frame_kind", f.Kind.String()))
		case <-ctx.Done():
		}
	}
}
