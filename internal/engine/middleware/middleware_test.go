package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingMiddleware struct {
	name     string
	order    *[]string
	mu       *sync.Mutex
	failRecv bool
}

func (r *recordingMiddleware) record(step string) {
	r.mu.Lock()
	*r.order = append(*r.order, r.name+":"+step)
	r.mu.Unlock()
}

func (r *recordingMiddleware) OnReceive(f domain.Frame) error {
	r.record("receive")
	if r.failRecv {
		return errors.New("boom")
	}
	return nil
}
func (r *recordingMiddleware) OnSend(f domain.Frame) error {
	r.record("send")
	return nil
}
func (r *recordingMiddleware) OnConnect() error {
	r.record("connect")
	return nil
}
func (r *recordingMiddleware) OnDisconnect() error {
	r.record("disconnect")
	return nil
}

func TestStackRunsInRegistrationOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	a := &recordingMiddleware{name: "a", order: &order, mu: &mu}
	b := &recordingMiddleware{name: "b", order: &order, mu: &mu}

	s := NewStack(a, b)
	if err := s.OnReceive(domain.NewTextFrame("x")); err != nil {
		t.Fatal(err)
	}

	if len(order) != 2 || order[0] != "a:receive" || order[1] != "b:receive" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestStackShortCircuitsOnError(t *testing.T) {
	var order []string
	var mu sync.Mutex
	a := &recordingMiddleware{name: "a", order: &order, mu: &mu, failRecv: true}
	b := &recordingMiddleware{name: "b", order: &order, mu: &mu}

	s := NewStack(a, b)
	err := s.OnReceive(domain.NewTextFrame("x"))
	if err == nil {
		t.Fatal("expected error from a to short-circuit")
	}
	if len(order) != 1 {
		t.Errorf("expected only a to run, got %v", order)
	}
}

func TestStackOnConnectCollectsAllErrorsWithoutAborting(t *testing.T) {
	s := NewStack(
		errConnectMiddleware{},
		errConnectMiddleware{},
	)
	errs := s.OnConnect()
	if len(errs) != 2 {
		t.Errorf("expected both middleware errors collected, got %d", len(errs))
	}
}

type errConnectMiddleware struct{}

func (errConnectMiddleware) OnReceive(domain.Frame) error { return nil }
func (errConnectMiddleware) OnSend(domain.Frame) error    { return nil }
func (errConnectMiddleware) OnConnect() error             { return errors.New("connect failed") }
func (errConnectMiddleware) OnDisconnect() error          { return nil }

func TestStatsMiddlewareCountsFrames(t *testing.T) {
	m := NewStatsMiddleware(testLogger(), time.Hour)
	defer m.Stop()

	m.OnReceive(domain.NewTextFrame("a"))
	m.OnReceive(domain.NewBinaryFrame([]byte{1}))
	m.OnSend(domain.NewTextFrame("b"))
	m.OnConnect()
	m.OnDisconnect()

	snap := m.Snapshot()
	if snap.FramesReceived != 2 || snap.FramesSent != 1 {
		t.Errorf("unexpected counts: %+v", snap)
	}
	if snap.TextFrames != 1 || snap.BinaryFrames != 1 {
		t.Errorf("unexpected kind split: %+v", snap)
	}
	if snap.Connects != 1 || snap.Disconnects != 1 {
		t.Errorf("unexpected connect/disconnect counts: %+v", snap)
	}
}

type lifecycleAuditStore struct {
	mu      sync.Mutex
	events  []string
	details []map[string]any
}

func (f *lifecycleAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *lifecycleAuditStore) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func TestAuditMiddlewareLogsOrderLifecycle(t *testing.T) {
	store := &lifecycleAuditStore{}
	m := NewAuditMiddleware(store, testLogger(), context.Background())

	m.LogOrderSent(domain.OpenOrder{RequestID: "r1", Asset: "EURUSD_otc", Amount: 10, Direction: domain.DirectionCall, DurationS: 60})
	m.LogOrderResolved("r1", "trade-1", true, "")
	m.LogDuplicateSuppressed("fp", "trade-1")
	m.LogReconciliation("r1", "confirmed")

	deadline := time.After(time.Second)
	for {
		if len(store.snapshot()) == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 4 audit events, got %v", store.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	events := store.snapshot()
	want := []string{"order_sent", "order_resolved", "duplicate_suppressed", "reconciliation_resolved"}
	seen := make(map[string]bool)
	for _, e := range events {
		seen[e] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("expected event %q logged, got %v", w, events)
		}
	}
}
