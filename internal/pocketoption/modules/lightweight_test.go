package modules

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestState() *domain.SharedState {
	return domain.NewSharedState(domain.NewDemoCredential(1), domain.DefaultStateConfig())
}

func TestKeepAliveRepliesPong(t *testing.T) {
	in := make(chan domain.Frame, 1)
	out := make(chan domain.Frame, 1)
	m := NewKeepAlive(in, out, newTestState(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	in <- domain.NewTextFrame("2")
	select {
	case f := <-out:
		if f.String() != "3" {
			t.Errorf("got %q, want pong token 3", f.String())
		}
	case <-time.After(time.Second):
		t.Fatal("keepalive never replied")
	}
}

func TestBalanceHandlerUpdatesState(t *testing.T) {
	in := make(chan domain.Frame, 1)
	out := make(chan domain.Frame, 1)
	state := newTestState()
	m := NewBalance(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	in <- domain.NewTextFrame(`42["successupdateBalance",{"balance":123.45}]`)

	deadline := time.After(time.Second)
	for {
		if b, ok := state.Balance(); ok {
			if b != 123.45 {
				t.Errorf("got balance %v, want 123.45", b)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("balance was never set")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAssetsHandlerPopulatesTable(t *testing.T) {
	in := make(chan domain.Frame, 1)
	out := make(chan domain.Frame, 1)
	state := newTestState()
	m := NewAssets(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	in <- domain.NewTextFrame(`42["updateAssets",[{"symbol":"EURUSD_otc","payout":85,"times":[5,15,60]}]]`)

	select {
	case <-state.AssetsReadyChan():
	case <-time.After(time.Second):
		t.Fatal("assets ready gate never closed")
	}

	a, ok := state.Asset("EURUSD_otc")
	if !ok {
		t.Fatal("expected EURUSD_otc to be present")
	}
	if a.Payout != 85 || !a.IsOTC || !a.AllowsDuration(60) {
		t.Errorf("unexpected asset: %+v", a)
	}
}

func TestServerTimeHandlerSetsOffset(t *testing.T) {
	in := make(chan domain.Frame, 1)
	out := make(chan domain.Frame, 1)
	state := newTestState()
	m := NewServerTime(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	future := time.Now().Add(time.Hour)
	in <- domain.NewTextFrame(strconv.FormatInt(future.UnixMilli(), 10))

	deadline := time.After(time.Second)
	for {
		off := state.ServerTimeOffset()
		if off > 55*time.Minute {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("offset never converged, got %v", off)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
