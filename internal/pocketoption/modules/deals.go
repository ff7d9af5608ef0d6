package modules

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/module"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
)

type closedDealWire struct {
	TradeID   string  `json:"id"`
	RequestID string  `json:"requestId"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	Direction string  `json:"command"`
	OpenTime  int64   `json:"openTimestamp"`
	CloseTime int64   `json:"closeTimestamp"`
	Profit    float64 `json:"profit"`
}

// Deals is the API module fronting trade-result lookups: CheckResult
// registers interest in a trade id and blocks until the server's closed
// deals batch carries its outcome, or the caller's context is cancelled.
type Deals struct {
	in       <-chan domain.Frame
	out      chan<- domain.Frame
	state    *domain.SharedState
	waitlist *module.Waitlist
	logger   *slog.Logger

	checkCh chan checkResultRequest
	mirror  <-chan domain.Deal
	publish func(domain.Deal)
}

// UseMirror wires an optional cross-instance deal feed (see
// waitlist_cache.go): deals closed on another engine instance sharing the
// same account arrive here and are reconciled exactly like a local closed
// deals batch. Passing a nil channel (the default) disables mirroring.
func (d *Deals) UseMirror(ch <-chan domain.Deal) {
	d.mirror = ch
}

// UsePublisher wires a callback invoked with every deal this instance
// decodes from its own connection, so it can be mirrored out to other
// instances sharing the same account; deals that arrive from the mirror are
// not published again. A nil publisher (the default) disables publishing.
func (d *Deals) UsePublisher(publish func(domain.Deal)) {
	d.publish = publish
}

type checkResultRequest struct {
	tradeID string
	cmd     module.Command
}

// NewDeals builds the Deals module.
func NewDeals(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger) *Deals {
	logger = logger.With(slog.String("module", "deals"))
	cfg := state.Config()
	return &Deals{
		in:       in,
		out:      out,
		state:    state,
		waitlist: module.NewWaitlist(cfg.WaitlistCapacity, cfg.WaitlistTTL, logger),
		logger:   logger,
		checkCh:  make(chan checkResultRequest, 32),
	}
}

// CheckResult blocks until the trade's result arrives on the wire, the
// waitlist evicts the entry at capacity, or ctx is cancelled.
func (d *Deals) CheckResult(ctx context.Context, tradeID string) (domain.Deal, error) {
	if existing, ok := d.state.ClosedDeal(tradeID); ok {
		return existing, nil
	}

	cmd, replyCh := module.NewCommand(tradeID)
	select {
	case d.checkCh <- checkResultRequest{tradeID: tradeID, cmd: cmd}:
	case <-ctx.Done():
		return domain.Deal{}, ctx.Err()
	}

	v, err := module.Await(ctx, replyCh)
	if err != nil {
		d.waitlist.Cancel(tradeID)
		return domain.Deal{}, err
	}
	deal, _ := v.(domain.Deal)
	return deal, nil
}

// Run drives the check-result and inbox loops, plus periodic TTL reaping
// of the waitlist, until ctx is cancelled.
func (d *Deals) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.checkCh:
			d.waitlist.Add(req.tradeID, req.cmd)
		case f, ok := <-d.in:
			if !ok {
				return
			}
			d.handleFrame(f)
		case deal, ok := <-d.mirror:
			if !ok {
				d.mirror = nil
				continue
			}
			d.reconcile(deal)
		case now := <-ticker.C:
			if n := d.waitlist.Reap(now); n > 0 {
				d.logger.Debug("reaped stale waitlist entries", slog.Int("count", n))
			}
		}
	}
}

// handleFrame decodes either a closed-deals binary body (the pairing
// rule's second half) or a single-trade successcloseOrder text event, and
// reconciles every deal it carries into shared state and the waitlist.
func (d *Deals) handleFrame(f domain.Frame) {
	if f.Kind == domain.FrameBinary {
		d.handleClosedDealsBatch(f.Data)
		return
	}
	ev, ok := pocketoption.ParseEvent(f.String())
	if !ok || ev.Name != "successcloseOrder" {
		return
	}
	var w closedDealWire
	if err := json.Unmarshal(ev.Payload, &w); err != nil {
		d.logger.Warn("decoding successcloseOrder", slog.String("error", err.Error()))
		return
	}
	d.applyWire(w)
}

func (d *Deals) handleClosedDealsBatch(data []byte) {
	var wire []closedDealWire
	if err := json.Unmarshal(data, &wire); err != nil {
		d.logger.Warn("decoding closed deals batch", slog.String("error", err.Error()))
		return
	}
	for _, w := range wire {
		d.applyWire(w)
	}
}

func (d *Deals) applyWire(w closedDealWire) {
	result := domain.ResultLoss
	if w.Profit > 0 {
		result = domain.ResultWin
	} else if w.Profit == 0 {
		result = domain.ResultDraw
	}
	deal := domain.Deal{
		TradeID:       w.TradeID,
		RequestID:     w.RequestID,
		Asset:         w.Asset,
		Amount:        w.Amount,
		Direction:     domain.Direction(w.Direction),
		OpenTimestamp: time.UnixMilli(w.OpenTime),
		CloseTime:     time.UnixMilli(w.CloseTime),
		Result:        result,
		Profit:        w.Profit,
	}
	d.reconcile(deal)
	if d.publish != nil {
		d.publish(deal)
	}
}

// reconcile applies one closed deal to shared state and the local
// waitlist, regardless of whether it arrived on the wire or from the
// cross-instance mirror.
func (d *Deals) reconcile(deal domain.Deal) {
	d.state.CloseDeal(deal)
	d.waitlist.Resolve(deal.TradeID, deal, nil)
}
