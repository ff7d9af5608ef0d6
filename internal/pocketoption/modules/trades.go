package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/dedup"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/middleware"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/module"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
)

// BuyRequest is the Req payload for a Trades command.
type BuyRequest struct {
	Asset     string
	Amount    float64
	Direction domain.Direction
	DurationS int64
}

type openOrderAck struct {
	RequestID string  `json:"requestId"`
	TradeID   string  `json:"id"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	Direction string  `json:"action"`
	OpenTime  int64   `json:"openTime"`
}

type openOrderRejection struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
}

// Trades is the API module fronting order placement: callers submit a
// BuyRequest through Commands and block on the command's reply channel
// until the server acknowledges (or rejects) the open order, or their
// context is cancelled.
type Trades struct {
	Commands chan module.Command

	in      <-chan domain.Frame
	out     chan<- domain.Frame
	state   *domain.SharedState
	tracker *module.CorrelationTracker
	logger  *slog.Logger
	minAmt  float64
	maxAmt  float64

	distributed *dedup.DistributedWindow
	audit       *middleware.AuditMiddleware
}

// UseDistributedDedup wires a Redis-backed idempotency window so duplicate
// orders are suppressed even across a process restart or between multiple
// engine instances trading the same account. Without it, duplicate
// suppression is limited to the in-process PendingOrders fingerprint scan
// below.
func (t *Trades) UseDistributedDedup(w *dedup.DistributedWindow) {
	t.distributed = w
}

// UseAudit wires the Postgres-backed audit trail. Without it, order
// lifecycle events are not recorded anywhere but the process log.
func (t *Trades) UseAudit(audit *middleware.AuditMiddleware) {
	t.audit = audit
}

// NewTrades builds the Trades module. minAmt/maxAmt bound ValidateAmount.
func NewTrades(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger, minAmt, maxAmt float64) *Trades {
	logger = logger.With(slog.String("module", "trades"))
	return &Trades{
		Commands: make(chan module.Command, 32),
		in:       in,
		out:      out,
		state:    state,
		tracker:  module.NewCorrelationTracker(logger),
		logger:   logger,
		minAmt:   minAmt,
		maxAmt:   maxAmt,
	}
}

// Buy submits a trade command and blocks for the server's acknowledgment.
// On timeout or cancellation it issues an explicit cancel so a later stray
// ack for the same request id is a no-op rather than a misdelivery.
func (t *Trades) Buy(ctx context.Context, req BuyRequest) (domain.Deal, error) {
	const op = "pocketoption.trades.buy"

	asset, ok := t.state.Asset(req.Asset)
	if !ok {
		return domain.Deal{}, domain.NewError(op, domain.KindValidation, fmt.Sprintf("unknown asset %q", req.Asset))
	}
	if err := pocketoption.ValidateAmount(req.Amount, t.minAmt, t.maxAmt); err != nil {
		return domain.Deal{}, err
	}
	if err := pocketoption.ValidateDuration(asset, req.DurationS); err != nil {
		return domain.Deal{}, err
	}

	requestID := uuid.NewString()
	order := domain.OpenOrder{
		RequestID: requestID,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Direction: req.Direction,
		DurationS: req.DurationS,
		CreatedAt: time.Now(),
	}

	cmd, replyCh := module.NewCommand(order)
	select {
	case t.Commands <- cmd:
	case <-ctx.Done():
		return domain.Deal{}, ctx.Err()
	}

	v, err := module.Await(ctx, replyCh)
	if err != nil {
		t.tracker.Cancel(requestID) // no-op if the command already resolved
		if _, typed := err.(*domain.EngineError); typed {
			return domain.Deal{}, err
		}
		return domain.Deal{}, domain.Wrap(op, domain.KindTimeout, err)
	}
	deal, _ := v.(domain.Deal)
	return deal, nil
}

// reapInterval is how often Run sweeps for pending orders that never
// received a server ack within the configured TTL.
const reapInterval = 30 * time.Second

// ReconciliationThreshold is the minimum age of a pending order before the
// reconnection callback will resolve it, per the trade reconciliation
// contract: a reconnect means the session that carried the original
// openOrder frame is gone, so after this grace period there is no way to
// learn the outcome except by the ordinary ack/reject frames (if the order
// did go through, the account's asset/balance pushes will still reflect it,
// but the caller's Buy has already been unblocked with a ConnectionLost
// error and carries no trade id to look up).
const ReconciliationThreshold = 5 * time.Second

// Run drives the module's command and inbox loops until ctx is cancelled.
func (t *Trades) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-t.Commands:
			t.handleCommand(ctx, cmd)
		case f, ok := <-t.in:
			if !ok {
				return
			}
			t.handleFrame(f)
		case now := <-ticker.C:
			t.Reconcile(now, t.state.Config().PendingOrdersTTL)
		}
	}
}

// Reconcile resolves every pending order older than threshold with a
// ConnectionLost error: once a pending order has gone unacknowledged for
// that long there is no pending evidence either way, so the caller's Buy
// is unblocked rather than left hanging on its own context deadline.
// Called both periodically (with the configured pending-orders TTL) and by
// the reconnection callback (with ReconciliationThreshold) after a
// connection loss, since a lost connection is the dominant cause of a
// stuck acknowledgment.
func (t *Trades) Reconcile(now time.Time, threshold time.Duration) int {
	if threshold <= 0 {
		return 0
	}
	n := 0
	for _, p := range t.state.PendingOrders() {
		if now.Sub(p.CreatedAt) < threshold {
			continue
		}
		if _, ok := t.state.TakePendingOrder(p.Order.RequestID); !ok {
			continue
		}
		t.tracker.Resolve(p.Order.RequestID, nil,
			domain.NewError("pocketoption.trades.reconcile", domain.KindConnectionLost, "order not acknowledged before connection was lost"))
		if t.audit != nil {
			t.audit.LogReconciliation(p.Order.RequestID, "dropped: connection lost")
		}
		n++
	}
	if n > 0 {
		t.logger.Debug("reconciled stale pending orders", slog.Int("count", n))
	}
	return n
}

func (t *Trades) handleCommand(ctx context.Context, cmd module.Command) {
	order, ok := cmd.Req.(domain.OpenOrder)
	if !ok {
		return
	}

	for _, pending := range t.state.PendingOrders() {
		if pending.Order.Fingerprint() == order.Fingerprint() {
			if t.audit != nil {
				t.audit.LogDuplicateSuppressed(order.Fingerprint(), pending.Order.RequestID)
			}
			t.tracker.Resolve(order.RequestID, nil, domain.Duplicate("pocketoption.trades.buy", pending.Order.RequestID))
			return
		}
	}

	if t.distributed != nil {
		allowed, err := t.distributed.Check(ctx, order.Fingerprint())
		if err != nil {
			t.logger.Warn("distributed dedup check failed, proceeding on in-process check only", slog.String("error", err.Error()))
		} else if !allowed {
			if t.audit != nil {
				t.audit.LogDuplicateSuppressed(order.Fingerprint(), "")
			}
			t.tracker.Resolve(order.RequestID, nil, domain.Duplicate("pocketoption.trades.buy", order.Fingerprint()))
			return
		}
	}

	t.tracker.Track(order.RequestID, cmd)
	t.state.PutPendingOrder(domain.PendingOrder{Order: order, CreatedAt: order.CreatedAt})

	frame, err := pocketoption.BuildOpenOrderFrame(order.Asset, order.Amount, string(order.Direction), order.DurationS, order.RequestID)
	if err != nil {
		t.tracker.Resolve(order.RequestID, nil, domain.Wrap("pocketoption.trades.buy", domain.KindInternal, err))
		return
	}
	if t.audit != nil {
		t.audit.LogOrderSent(order)
	}
	select {
	case t.out <- domain.NewTextFrame(string(frame)):
	case <-ctx.Done():
	}
}

func (t *Trades) handleFrame(f domain.Frame) {
	ev, ok := pocketoption.ParseEvent(f.String())
	if !ok {
		return
	}
	switch ev.Name {
	case "successopenOrder":
		t.handleOpenOrderAck(ev.Payload)
	case "failopenOrder":
		t.handleOpenOrderRejection(ev.Payload)
	}
}

func (t *Trades) handleOpenOrderAck(payload json.RawMessage) {
	var ack openOrderAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		t.logger.Warn("decoding open order ack", slog.String("error", err.Error()))
		return
	}

	pending, ok := t.state.TakePendingOrder(ack.RequestID)
	if !ok {
		t.logger.Debug("ack for unknown request id", slog.String("request_id", ack.RequestID))
	}
	deal := domain.Deal{
		TradeID:       ack.TradeID,
		RequestID:     ack.RequestID,
		Asset:         ack.Asset,
		Amount:        ack.Amount,
		Direction:     domain.Direction(ack.Direction),
		OpenTimestamp: time.UnixMilli(ack.OpenTime),
	}
	if pending.Order.RequestID != "" {
		deal.Amount = pending.Order.Amount
	}
	t.state.PutOpenedDeal(deal)
	if t.audit != nil {
		t.audit.LogOrderResolved(ack.RequestID, ack.TradeID, true, "")
	}
	t.tracker.Resolve(ack.RequestID, deal, nil)
}

// handleOpenOrderRejection correlates a failopenOrder event back to its
// caller and resolves the pending Buy with a typed server-reject error
// carrying the server's reason text.
func (t *Trades) handleOpenOrderRejection(payload json.RawMessage) {
	var rej openOrderRejection
	if err := json.Unmarshal(payload, &rej); err != nil {
		t.logger.Warn("decoding open order rejection", slog.String("error", err.Error()))
		return
	}

	t.state.TakePendingOrder(rej.RequestID)
	if t.audit != nil {
		t.audit.LogOrderResolved(rej.RequestID, "", false, rej.Reason)
	}
	resolved := t.tracker.Resolve(rej.RequestID, nil,
		domain.NewError("pocketoption.trades.buy", domain.KindServerReject, rej.Reason))
	if !resolved {
		t.logger.Debug("rejection for unknown request id", slog.String("request_id", rej.RequestID))
	}
}
