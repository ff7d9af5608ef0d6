package module

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLightweightProcessesFramesInOrder(t *testing.T) {
	in := make(chan domain.Frame, 10)
	out := make(chan domain.Frame, 10)
	state := domain.NewSharedState(domain.NewDemoCredential(1), domain.DefaultStateConfig())

	var seen []string
	m := &Lightweight{
		Name:  "test",
		In:    in,
		Out:   out,
		State: state,
		Handler: func(ctx context.Context, f domain.Frame, s *domain.SharedState, out chan<- domain.Frame) error {
			seen = append(seen, f.String())
			return nil
		},
		Logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	in <- domain.NewTextFrame("1")
	in <- domain.NewTextFrame("2")
	in <- domain.NewTextFrame("3")

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	if len(seen) != 3 || seen[0] != "1" || seen[1] != "2" || seen[2] != "3" {
		t.Errorf("unexpected order: %v", seen)
	}
}

func TestLightweightSurvivesHandlerPanic(t *testing.T) {
	in := make(chan domain.Frame, 2)
	out := make(chan domain.Frame, 2)
	state := domain.NewSharedState(domain.NewDemoCredential(1), domain.DefaultStateConfig())

	calls := 0
	m := &Lightweight{
		Name:  "test",
		In:    in,
		Out:   out,
		State: state,
		Handler: func(ctx context.Context, f domain.Frame, s *domain.SharedState, out chan<- domain.Frame) error {
			calls++
			if f.String() == "bad" {
				panic("decode exploded")
			}
			return nil
		},
		Logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	in <- domain.NewTextFrame("bad")
	in <- domain.NewTextFrame("good")
	time.Sleep(50 * time.Millisecond)

	if calls != 2 {
		t.Errorf("expected handler invoked twice despite panic, got %d", calls)
	}
}

func TestCorrelationTrackerResolve(t *testing.T) {
	tr := NewCorrelationTracker(testLogger())
	cmd, ch := NewCommand("open-order-payload")
	tr.Track("req-1", cmd)

	if !tr.Resolve("req-1", "deal-123", nil) {
		t.Fatal("expected Resolve to find the pending command")
	}

	select {
	case r := <-ch:
		if r.Value != "deal-123" || r.Err != nil {
			t.Errorf("unexpected result: %+v", r)
		}
	default:
		t.Fatal("expected a result on the reply channel")
	}

	if tr.Resolve("req-1", "deal-123", nil) {
		t.Error("resolving an already-resolved id should be a no-op")
	}
}

func TestCorrelationTrackerCancelPreventsStaleDelivery(t *testing.T) {
	tr := NewCorrelationTracker(testLogger())
	cmd, ch := NewCommand("payload")
	tr.Track("req-2", cmd)
	tr.Cancel("req-2")

	if tr.Resolve("req-2", "late", nil) {
		t.Error("resolve after cancel must be a no-op")
	}
	select {
	case r := <-ch:
		t.Errorf("cancelled command should never receive a result, got %+v", r)
	default:
	}
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	ch := make(chan Result)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Await(ctx, ch)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWaitlistAddResolveCancel(t *testing.T) {
	w := NewWaitlist(10, time.Minute, testLogger())
	cmd, ch := NewCommand(nil)
	w.Add("trade-1", cmd)

	if w.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", w.Len())
	}

	w.Resolve("trade-1", "closed-deal", nil)
	select {
	case r := <-ch:
		if r.Value != "closed-deal" {
			t.Errorf("unexpected value: %v", r.Value)
		}
	default:
		t.Fatal("expected resolved result")
	}

	cmd2, ch2 := NewCommand(nil)
	w.Add("trade-2", cmd2)
	w.Cancel("trade-2")
	select {
	case r := <-ch2:
		t.Errorf("cancelled entry should not receive a result, got %+v", r)
	default:
	}
}

func TestWaitlistCapacityEvictsOldest(t *testing.T) {
	w := NewWaitlist(2, time.Minute, testLogger())
	cmd1, ch1 := NewCommand(nil)
	w.Add("trade-1", cmd1)

	cmd2, _ := NewCommand(nil)
	w.Add("trade-2", cmd2)

	cmd3, _ := NewCommand(nil)
	w.Add("trade-3", cmd3)

	if w.Len() != 2 {
		t.Fatalf("expected capacity to cap entries at 2, got %d", w.Len())
	}

	select {
	case r := <-ch1:
		if r.Err == nil {
			t.Error("expected evicted entry to receive an error")
		}
	default:
		t.Fatal("expected the oldest entry to be evicted with a reply")
	}
}

func TestWaitlistReapRemovesClosedEntriesPastRetention(t *testing.T) {
	w := NewWaitlist(10, 10*time.Millisecond, testLogger())
	cmd, _ := NewCommand(nil)
	w.Add("trade-1", cmd)
	w.Resolve("trade-1", "done", nil)

	if reaped := w.Reap(time.Now()); reaped != 0 {
		t.Errorf("expected no reap immediately after close, got %d", reaped)
	}

	time.Sleep(20 * time.Millisecond)
	if reaped := w.Reap(time.Now()); reaped != 1 {
		t.Errorf("expected 1 entry reaped after retention window, got %d", reaped)
	}
	if w.Len() != 0 {
		t.Errorf("expected waitlist empty after reap, got %d", w.Len())
	}
}
