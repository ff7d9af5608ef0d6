package domain

// SubscriptionKind selects the stream shape requested for an asset.
type SubscriptionKind string

const (
	SubscriptionTicks   SubscriptionKind = "ticks"
	SubscriptionCandles SubscriptionKind = "candles"
)

// Tick is a single price update delivered to a subscription's outbound
// channel.
type Tick struct {
	Asset string
	Price float64
	Time  int64 // unix millis, server time
}

// Subscription is created by a Subscribe call; it owns the outbound channel
// a caller reads ticks from and is torn down by explicit Unsubscribe or by
// the caller dropping the consumer (Close).
type Subscription struct {
	Asset string
	Kind  SubscriptionKind
	Ch    chan Tick
	// stale is set by the runner on disconnect and cleared by the
	// reconnection callback once the changeSymbol frame is re-sent.
	Stale bool
}

// Close releases the subscription's outbound channel. Safe to call once;
// callers typically only drop the channel, Unsubscribe calls Close via the
// owning module.
func (s *Subscription) Close() {
	defer func() { recover() }() // tolerate double-close from racing callers
	close(s.Ch)
}
