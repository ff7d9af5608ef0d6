package modules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

func stateWithAsset() *domain.SharedState {
	state := newTestState()
	state.SetAssets([]domain.Asset{{Symbol: "EURUSD_otc", Payout: 85, AllowedDurationsS: []int64{60}}})
	return state
}

func TestTradesBuySendsOrderAndResolvesOnAck(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 4)
	state := stateWithAsset()
	tr := NewTrades(in, out, state, testLogger(), 1, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	resultCh := make(chan struct {
		deal domain.Deal
		err  error
	}, 1)
	go func() {
		deal, err := tr.Buy(ctx, BuyRequest{Asset: "EURUSD_otc", Amount: 10, Direction: domain.DirectionCall, DurationS: 60})
		resultCh <- struct {
			deal domain.Deal
			err  error
		}{deal, err}
	}()

	var sentFrame domain.Frame
	select {
	case sentFrame = <-out:
	case <-time.After(time.Second):
		t.Fatal("expected an outbound openOrder frame")
	}
	if sentFrame.Kind != domain.FrameText {
		t.Fatalf("expected a text frame, got %v", sentFrame.Kind)
	}

	in <- domain.NewTextFrame(`42["successopenOrder",{"requestId":"` + extractRequestID(sentFrame.String()) + `","id":"trade-1","asset":"EURUSD_otc","amount":10,"action":"call","openTime":1700000000000}]`)

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("Buy returned error: %v", r.err)
		}
		if r.deal.TradeID != "trade-1" {
			t.Errorf("got trade id %q, want trade-1", r.deal.TradeID)
		}
	case <-time.After(time.Second):
		t.Fatal("Buy never resolved")
	}
}

func TestTradesBuyRejectedByServer(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 4)
	state := stateWithAsset()
	tr := NewTrades(in, out, state, testLogger(), 1, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Buy(ctx, BuyRequest{Asset: "EURUSD_otc", Amount: 10, Direction: domain.DirectionCall, DurationS: 60})
		errCh <- err
	}()

	var sentFrame domain.Frame
	select {
	case sentFrame = <-out:
	case <-time.After(time.Second):
		t.Fatal("expected an outbound openOrder frame")
	}

	in <- domain.NewTextFrame(`42["failopenOrder",{"requestId":"` + extractRequestID(sentFrame.String()) + `","reason":"not enough funds"}]`)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected Buy to return an error")
		}
		if !errors.Is(err, domain.ErrServerReject) {
			t.Fatalf("got error %v, want a KindServerReject error", err)
		}
		var engErr *domain.EngineError
		if errors.As(err, &engErr) && engErr.Detail != "not enough funds" {
			t.Errorf("got detail %q, want the server's reason text", engErr.Detail)
		}
	case <-time.After(time.Second):
		t.Fatal("Buy never resolved")
	}

	if _, ok := state.TakePendingOrder(extractRequestID(sentFrame.String())); ok {
		t.Error("rejected order should not remain pending")
	}
}

func TestTradesReconcileResolvesStaleOrders(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 4)
	state := stateWithAsset()
	tr := NewTrades(in, out, state, testLogger(), 1, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Buy(ctx, BuyRequest{Asset: "EURUSD_otc", Amount: 10, Direction: domain.DirectionCall, DurationS: 60})
		errCh <- err
	}()

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected an outbound openOrder frame")
	}

	// No ack arrives. Reconcile with a threshold already exceeded by the
	// order's age should resolve Buy with ConnectionLost instead of letting
	// it hang on ctx.
	time.Sleep(10 * time.Millisecond)
	n := tr.Reconcile(time.Now(), 5*time.Millisecond)
	if n != 1 {
		t.Fatalf("Reconcile reported %d resolved, want 1", n)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrConnectionLost) {
			t.Fatalf("got error %v, want a KindConnectionLost error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Buy never resolved after Reconcile")
	}

	if len(state.PendingOrders()) != 0 {
		t.Error("reconciled order should be removed from pending state")
	}
}

func TestTradesBuyRejectsUnknownAsset(t *testing.T) {
	in := make(chan domain.Frame, 1)
	out := make(chan domain.Frame, 1)
	state := newTestState()
	tr := NewTrades(in, out, state, testLogger(), 1, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	if _, err := tr.Buy(ctx, BuyRequest{Asset: "UNKNOWN", Amount: 10, DurationS: 60}); err == nil {
		t.Fatal("expected an error for an unknown asset")
	}
}

func TestDealsCheckResultResolvesFromBatch(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 4)
	state := newTestState()
	d := NewDeals(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resultCh := make(chan domain.Deal, 1)
	go func() {
		deal, err := d.CheckResult(ctx, "trade-1")
		if err == nil {
			resultCh <- deal
		}
	}()

	time.Sleep(20 * time.Millisecond) // let CheckResult register on the waitlist
	in <- domain.NewBinaryFrame([]byte(`[{"id":"trade-1","asset":"EURUSD_otc","amount":10,"command":"call","openTimestamp":1700000000000,"closeTimestamp":1700000060000,"profit":8.5}]`))

	select {
	case deal := <-resultCh:
		if deal.Result != domain.ResultWin {
			t.Errorf("got result %v, want win", deal.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("CheckResult never resolved")
	}
}

func TestDealsSuccessCloseOrderResolvesWaitlist(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 4)
	state := newTestState()
	d := NewDeals(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	resultCh := make(chan domain.Deal, 1)
	go func() {
		deal, err := d.CheckResult(ctx, "trade-1")
		if err == nil {
			resultCh <- deal
		}
	}()

	time.Sleep(20 * time.Millisecond) // let CheckResult register on the waitlist
	in <- domain.NewTextFrame(`42["successcloseOrder",{"id":"trade-1","asset":"EURUSD_otc","amount":10,"command":"put","openTimestamp":1700000000000,"closeTimestamp":1700000060000,"profit":-10}]`)

	select {
	case deal := <-resultCh:
		if deal.Result != domain.ResultLoss {
			t.Errorf("got result %v, want loss", deal.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("CheckResult never resolved from a successcloseOrder event")
	}
}

func TestSubscriptionsSubscribeThenReceivesTicks(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 4)
	state := newTestState()
	s := NewSubscriptions(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	sub, err := s.Subscribe(ctx, "EURUSD_otc")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected an outbound changeSymbol frame")
	}

	in <- domain.NewTextFrame(`42["updateStream",[{"asset":"EURUSD_otc","price":1.2345,"time":1700000000000}]]`)

	select {
	case tick := <-sub.Ch:
		if tick.Price != 1.2345 {
			t.Errorf("got price %v, want 1.2345", tick.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("tick never delivered")
	}
}

func TestSubscriptionsRejectsOverLimit(t *testing.T) {
	in := make(chan domain.Frame, 4)
	out := make(chan domain.Frame, 8)
	state := newTestState() // default max is 4
	s := NewSubscriptions(in, out, state, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i, asset := range []string{"A", "B", "C", "D"} {
		if _, err := s.Subscribe(ctx, asset); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		<-out
	}
	if _, err := s.Subscribe(ctx, "E"); err == nil {
		t.Fatal("expected the fifth subscription to be rejected")
	}
}

// extractRequestID pulls the requestId a BuildOpenOrderFrame embedded in
// its JSON payload, for tests that need to echo it back in a fake ack.
func extractRequestID(frame string) string {
	const key = `"requestId":"`
	idx := indexOf(frame, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := start
	for end < len(frame) && frame[end] != '"' {
		end++
	}
	return frame[start:end]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// containsEventName reports whether frame is a framed event carrying name
// as its event name, e.g. `42["loadHistoryPeriodAll",...]`.
func containsEventName(frame, name string) bool {
	return indexOf(frame, `["`+name+`"`) >= 0
}
