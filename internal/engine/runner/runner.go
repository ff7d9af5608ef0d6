// Package runner drives the client session finite state machine:
// Disconnected -> Connected -> Reconnecting -> Backoff -> (retry) or
// Terminated, spawning the reader/writer tasks and running reconnection
// callbacks on every successful (re)connect.
package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/middleware"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/router"
)

// Conn is the subset of *websocket.Conn the runner needs; a narrow
// interface so tests can substitute a fake transport.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer produces a ready Conn, the endpoint it connected to, or an error
// classified per connector.Classify (Handshake is non-retryable, everything
// else is treated as a transient failure worth a backoff+retry).
type Dialer interface {
	Dial(ctx context.Context) (Conn, string, error)
}

// Config parameterizes the runner.
type Config struct {
	Backoff          BackoffConfig
	CallbackDeadline time.Duration
	OutboxCapacity   int

	// OnDialFailure, if set, is invoked with every classified dial error
	// (handshake or transport) before the backoff wait, and with the
	// zero-based attempt number about to be used for that wait. The
	// application layer uses this to alert operators on handshake
	// rejections and repeated reconnection failures; the runner
	// itself stays free of any notification-channel dependency.
	OnDialFailure func(err error, attempt int)
}

// DefaultConfig returns the runner's default tuning.
func DefaultConfig() Config {
	return Config{
		Backoff:          DefaultBackoffConfig(),
		CallbackDeadline: 10 * time.Second,
		OutboxCapacity:   256,
	}
}

// Runner owns one client session's connection lifecycle.
type Runner struct {
	cfg        Config
	dialer     Dialer
	router     *router.Router
	middleware *middleware.Stack
	shared     *domain.SharedState
	callbacks  callbackRegistry
	logger     *slog.Logger

	outbox chan domain.Frame

	stateMu sync.RWMutex
	state   State
	attempt int

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New builds a Runner. dialer, rt, and mws are wired by the application
// layer (the concrete PocketOption client assembles these from its own
// connector, router, and middleware stack).
func New(cfg Config, dialer Dialer, rt *router.Router, mws *middleware.Stack, shared *domain.SharedState, logger *slog.Logger) *Runner {
	if cfg.CallbackDeadline <= 0 {
		cfg.CallbackDeadline = DefaultConfig().CallbackDeadline
	}
	if cfg.OutboxCapacity <= 0 {
		cfg.OutboxCapacity = DefaultConfig().OutboxCapacity
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	return &Runner{
		cfg:        cfg,
		dialer:     dialer,
		router:     rt,
		middleware: mws,
		shared:     shared,
		logger:     logger.With(slog.String("component", "runner")),
		outbox:     make(chan domain.Frame, cfg.OutboxCapacity),
		shutdown:   make(chan struct{}),
	}
}

// RegisterCallback adds a reconnection callback, run on every entry to
// Connected in registration order.
func (r *Runner) RegisterCallback(cb ReconnectCallback) {
	r.callbacks.register(cb)
}

// Outbox returns the channel modules send outbound frames on.
func (r *Runner) Outbox() chan<- domain.Frame {
	return r.outbox
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// Shutdown requests termination. Safe to call multiple times and from any
// goroutine; Run returns nil once the shutdown takes effect.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdown) })
}

func (r *Runner) shuttingDown() bool {
	select {
	case <-r.shutdown:
		return true
	default:
		return false
	}
}

// Run drives the state machine until ctx is canceled or Shutdown is called
// (returning nil), or until a dial fails with a Handshake error, which is
// not retried and is returned. It never returns while the session is healthy; callers run it in its own
// goroutine (or as the last leg of their own errgroup).
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil || r.shuttingDown() {
			r.setState(StateTerminated)
			return nil
		}

		conn, endpoint, err := r.dialer.Dial(ctx)
		if err != nil {
			r.logger.Warn("connect failed, entering backoff", slog.String("error", err.Error()))
			if r.cfg.OnDialFailure != nil {
				r.cfg.OnDialFailure(err, r.attempt)
			}
			if ee, ok := err.(*domain.EngineError); ok && ee.Kind == domain.KindHandshake {
				r.setState(StateTerminated)
				return err
			}
			if r.waitBackoff(ctx) {
				r.setState(StateTerminated)
				return nil
			}
			continue
		}

		r.attempt = 0
		r.logger.Info("connected", slog.String("endpoint", endpoint))
		r.setState(StateConnected)

		lostErr := r.runConnected(ctx, conn, endpoint)
		if lostErr == nil {
			r.setState(StateTerminated)
			return nil
		}

		r.logger.Warn("connection lost, reconnecting", slog.String("error", lostErr.Error()))
		r.setState(StateReconnecting)

		if r.shuttingDown() || ctx.Err() != nil {
			r.setState(StateTerminated)
			return nil
		}

		if r.waitBackoff(ctx) {
			r.setState(StateTerminated)
			return nil
		}
	}
}

// waitBackoff sleeps for the current attempt's backoff delay, incrementing
// attempt on each call. Returns true if the wait was interrupted by
// shutdown or context cancellation (caller should terminate).
func (r *Runner) waitBackoff(ctx context.Context) bool {
	r.setState(StateBackoff)
	delay := r.cfg.Backoff.Delay(r.attempt)
	r.attempt++
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	case <-r.shutdown:
		return true
	}
}

// runConnected drives one connection's lifetime: rule-latch reset,
// on_connect middleware, reconnection callbacks, then reader/writer tasks
// until the connection drops or shutdown is requested. Returns nil if the
// exit was a clean shutdown/cancellation, or the classified connection-lost
// error otherwise.
func (r *Runner) runConnected(ctx context.Context, conn Conn, endpoint string) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-connCtx.Done():
			conn.Close()
		case <-r.shutdown:
			conn.Close()
		}
	}()

	r.router.ResetLatches()
	for _, err := range r.middleware.OnConnect() {
		r.logger.Warn("on_connect middleware error", slog.String("error", err.Error()))
	}
	r.runReconnectCallbacks(connCtx)

	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error { return r.readLoop(gctx, conn) })
	g.Go(func() error { return r.writeLoop(gctx, conn) })
	runErr := g.Wait()

	for _, err := range r.middleware.OnDisconnect() {
		r.logger.Warn("on_disconnect middleware error", slog.String("error", err.Error()))
	}
	r.shared.OnDisconnect()

	if ctx.Err() != nil || r.shuttingDown() {
		return nil
	}
	return runErr
}

func (r *Runner) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f domain.Frame
		if mt == websocket.BinaryMessage {
			f = domain.NewBinaryFrame(data)
		} else {
			f = domain.NewTextFrame(string(data))
		}
		if err := r.middleware.OnReceive(f); err != nil {
			r.logger.Debug("on_receive middleware aborted frame", slog.String("error", err.Error()))
			continue
		}
		r.router.Dispatch(ctx, f)
	}
}

func (r *Runner) writeLoop(ctx context.Context, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-r.outbox:
			if !ok {
				return nil
			}
			if err := r.middleware.OnSend(f); err != nil {
				r.logger.Debug("on_send middleware aborted frame", slog.String("error", err.Error()))
				continue
			}
			mt := websocket.TextMessage
			if f.Kind == domain.FrameBinary {
				mt = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(mt, f.Data); err != nil {
				return err
			}
		}
	}
}
