package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// AuditStore is the subset of postgres.AuditStore this middleware needs,
// kept as an interface so tests can substitute a fake.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// AuditMiddleware appends trade-command lifecycle events (order sent, order
// resolved, duplicate suppressed, reconciliation outcome) to the audit log
// through its Log* methods. Its frame hooks are no-op pass-throughs, so the
// middleware never puts Postgres I/O on the hot path for tick/subscription
// traffic.
type AuditMiddleware struct {
	store  AuditStore
	logger *slog.Logger
	bg     context.Context
}

// NewAuditMiddleware builds an AuditMiddleware. bg is used for the
// asynchronous Log calls, which must outlive any single frame's
// processing context.
func NewAuditMiddleware(store AuditStore, logger *slog.Logger, bg context.Context) *AuditMiddleware {
	return &AuditMiddleware{
		store:  store,
		logger: logger.With(slog.String("component", "audit_middleware")),
		bg:     bg,
	}
}

// LogOrderSent records an outbound OpenOrder command. Called directly by
// the Trades module rather than inferred from raw frame bytes, since the
// audit detail needs structured fields the wire frame alone doesn't carry
// cheaply.
func (m *AuditMiddleware) LogOrderSent(o domain.OpenOrder) {
	m.logAsync("order_sent", map[string]any{
		"request_id": o.RequestID,
		"asset":      o.Asset,
		"amount":     o.Amount,
		"direction":  string(o.Direction),
		"duration_s": o.DurationS,
	})
}

// LogOrderResolved records an openOrder command's resolution.
func (m *AuditMiddleware) LogOrderResolved(requestID, tradeID string, accepted bool, reason string) {
	m.logAsync("order_resolved", map[string]any{
		"request_id": requestID,
		"trade_id":   tradeID,
		"accepted":   accepted,
		"reason":     reason,
	})
}

// LogDuplicateSuppressed records a fingerprint-matched duplicate rejection.
func (m *AuditMiddleware) LogDuplicateSuppressed(fingerprint, originalTradeID string) {
	m.logAsync("duplicate_suppressed", map[string]any{
		"fingerprint":       fingerprint,
		"original_trade_id": originalTradeID,
	})
}

// LogReconciliation records a reconnection-callback reconciliation outcome
// for a previously pending order.
func (m *AuditMiddleware) LogReconciliation(requestID, outcome string) {
	m.logAsync("reconciliation_resolved", map[string]any{
		"request_id": requestID,
		"outcome":    outcome,
	})
}

func (m *AuditMiddleware) logAsync(event string, detail map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(m.bg, 5*time.Second)
		defer cancel()
		if err := m.store.Log(ctx, event, detail); err != nil {
			m.logger.Warn("audit log write failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}()
}

// OnReceive/OnSend/OnConnect/OnDisconnect satisfy Middleware as no-ops;
// AuditMiddleware is driven directly by the Trades module's Log* calls
// above instead of frame inspection.
func (m *AuditMiddleware) OnReceive(f domain.Frame) error { return nil }
func (m *AuditMiddleware) OnSend(f domain.Frame) error    { return nil }
func (m *AuditMiddleware) OnConnect() error               { return nil }
func (m *AuditMiddleware) OnDisconnect() error            { return nil }
