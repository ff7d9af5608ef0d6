package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/middleware"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/router"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a Conn whose ReadMessage blocks until fed a message or closed,
// and whose WriteMessage records what was sent.
type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	inbound  chan []byte
	written  [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{closedCh: make(chan struct{}), inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("fake conn: inbound closed")
		}
		return websocket.TextMessage, msg, nil
	case <-c.closedCh:
		return 0, nil, errors.New("fake conn: closed")
	}
}

func (c *fakeConn) WriteMessage(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fake conn: write on closed conn")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) push(msg string) { c.inbound <- []byte(msg) }

// fakeDialer returns a scripted sequence of (conn, endpoint, err) results,
// one per Dial call; the last entry repeats for any call beyond the script.
type fakeDialer struct {
	mu      sync.Mutex
	script  []dialResult
	calls   int
	dialed  chan struct{}
}

type dialResult struct {
	conn Conn
	err  error
}

func newFakeDialer(script ...dialResult) *fakeDialer {
	return &fakeDialer{script: script, dialed: make(chan struct{}, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, string, error) {
	d.mu.Lock()
	i := d.calls
	if i >= len(d.script) {
		i = len(d.script) - 1
	}
	d.calls++
	r := d.script[i]
	d.mu.Unlock()
	d.dialed <- struct{}{}
	if r.err != nil {
		return nil, "", r.err
	}
	return r.conn, "fake://endpoint", nil
}

func newTestRunner(dialer Dialer) *Runner {
	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond}
	cfg.CallbackDeadline = time.Second
	rt := router.New(testLogger())
	mws := middleware.NewStack()
	shared := domain.NewSharedState(domain.Credential{}, domain.DefaultStateConfig())
	return New(cfg, dialer, rt, mws, shared, testLogger())
}

func TestRunnerConnectsAndReachesConnectedState(t *testing.T) {
	conn := newFakeConn()
	d := newFakeDialer(dialResult{conn: conn})
	r := newTestRunner(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(time.Second)
	for r.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("runner never reached Connected")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not exit after context cancellation")
	}
}

func TestRunnerRetriesAfterDialFailureThenConnects(t *testing.T) {
	conn := newFakeConn()
	d := newFakeDialer(
		dialResult{err: errors.New("first dial fails")},
		dialResult{conn: conn},
	)
	r := newTestRunner(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for r.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("runner never reconnected after initial dial failure")
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not exit after shutdown")
	}
}

func TestRunnerReconnectsAfterConnectionLost(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	d := newFakeDialer(dialResult{conn: conn1}, dialResult{conn: conn2})
	r := newTestRunner(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(time.Second)
	for d.calls < 1 {
		select {
		case <-deadline:
			t.Fatal("first dial never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}
	conn1.Close() // simulate connection lost

	deadline = time.After(2 * time.Second)
	for d.calls < 2 {
		select {
		case <-deadline:
			t.Fatal("runner never redialed after connection loss")
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not exit after shutdown")
	}
}

func TestRunnerShutdownDuringBackoffExitsPromptly(t *testing.T) {
	d := newFakeDialer(dialResult{err: errors.New("always fails")})
	r := newTestRunner(d)
	r.cfg.Backoff = BackoffConfig{Base: time.Hour, Cap: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(time.Second)
	for r.State() != StateBackoff {
		select {
		case <-deadline:
			t.Fatal("runner never entered backoff")
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown during backoff did not unblock Run")
	}
}

func TestRunnerRunsReconnectCallbacksOnConnect(t *testing.T) {
	conn := newFakeConn()
	d := newFakeDialer(dialResult{conn: conn})
	r := newTestRunner(d)

	var calledMu sync.Mutex
	called := false
	r.RegisterCallback(func(ctx context.Context, state *domain.SharedState, out chan<- domain.Frame) error {
		calledMu.Lock()
		called = true
		calledMu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		calledMu.Lock()
		c := called
		calledMu.Unlock()
		if c {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reconnect callback was never invoked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestRunnerDispatchesInboundFrameToRoute(t *testing.T) {
	conn := newFakeConn()
	d := newFakeDialer(dialResult{conn: conn})

	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond}
	rt := router.New(testLogger())
	mws := middleware.NewStack()
	shared := domain.NewSharedState(domain.Credential{}, domain.DefaultStateConfig())
	r := New(cfg, d, rt, mws, shared, testLogger())

	inbox := make(chan domain.Frame, 4)
	rt.Register(router.Route{
		Name:  "test",
		Rule:  contains("ping"),
		Inbox: inbox,
		Kind:  domain.FrameText,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	deadline := time.After(time.Second)
	for r.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("runner never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}

	conn.push("ping-event")

	select {
	case f := <-inbox:
		if f.String() != "ping-event" {
			t.Errorf("unexpected frame payload: %q", f.String())
		}
	case <-time.After(time.Second):
		t.Fatal("expected dispatched frame never arrived")
	}
}

// contains is a tiny local rule.Rule implementation to avoid importing the
// rule package just for one substring match in this test.
type contains string

func (c contains) Match(f domain.Frame) bool { return stringsContains(f.String(), string(c)) }
func (c contains) Reset()                    {}

func stringsContains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
