package domain

import (
	"sync"
	"time"
)

// RawValidatorDescriptor tracks a user-registered ad-hoc raw-handler
// validator so its optional keep-alive frame can be replayed by the
// reconnection callback (§4.5's "Validator replay"). The predicate itself
// is owned by the raw handler's module instance, not by SharedState.
type RawValidatorDescriptor struct {
	ID             string
	KeepAliveFrame []byte // nil if the validator registered none
}

// StateConfig carries the capacity/TTL knobs that govern SharedState's
// bounded collections, sourced from Config (§6).
type StateConfig struct {
	ClosedDealsCapacity int
	PendingOrdersTTL    time.Duration
	WaitlistTTL         time.Duration
	WaitlistCapacity    int
	SubscriptionsMax    int
}

// DefaultStateConfig mirrors the engine's documented defaults.
func DefaultStateConfig() StateConfig {
	return StateConfig{
		ClosedDealsCapacity: 256,
		PendingOrdersTTL:    120 * time.Second,
		WaitlistTTL:         5 * time.Minute,
		WaitlistCapacity:    1024,
		SubscriptionsMax:    4,
	}
}

// SharedState is the single object owned by the runner and read-mostly
// accessible to every module and middleware (§3.2). Every field listed in
// this data model has a discipline documented at the field: the
// balance/offset/subscription fields are single-writer/many-reader behind
// a short-held write lock; the maps follow the same rule with the writer
// identified in the comment.
type SharedState struct {
	credential Credential
	cfg        StateConfig

	mu               sync.RWMutex
	balance          *float64 // single-writer: Balance module
	serverTimeOffset time.Duration

	assetsMu     sync.RWMutex
	assetTable   map[string]Asset // single-writer: Assets module
	assetsReady  chan struct{}
	assetsClosed bool // whether assetsReady has already been closed this cycle

	tradeMu     sync.RWMutex
	openedDeals map[string]Deal // keyed by trade id; single-writer: Trades (insert) / Deals (delete)
	closedDeals []Deal          // bounded ring, oldest evicted first; single-writer: Deals module

	subMu    sync.RWMutex
	subsByAs map[string]*Subscription // single-writer: Subscriptions module

	pendingMu sync.RWMutex
	pending   map[string]PendingOrder // single-writer: Trades module

	validatorsMu sync.Mutex
	validators   []RawValidatorDescriptor // copy-on-write
}

// NewSharedState constructs the shared state object for one session.
func NewSharedState(cred Credential, cfg StateConfig) *SharedState {
	return &SharedState{
		credential:  cred,
		cfg:         cfg,
		assetTable:  make(map[string]Asset),
		assetsReady: make(chan struct{}),
		openedDeals: make(map[string]Deal),
		closedDeals: make([]Deal, 0, cfg.ClosedDealsCapacity),
		subsByAs:    make(map[string]*Subscription),
		pending:     make(map[string]PendingOrder),
	}
}

// Credential returns the immutable session credential.
func (s *SharedState) Credential() Credential { return s.credential }

// Config returns the capacity/TTL knobs this state was constructed with.
func (s *SharedState) Config() StateConfig { return s.cfg }

// --- balance -----------------------------------------------------------

// SetBalance records the latest balance (written by the Balance module).
func (s *SharedState) SetBalance(b float64) {
	s.mu.Lock()
	s.balance = &b
	s.mu.Unlock()
}

// Balance returns the current balance, or ok=false if none has been
// received since construction or the last disconnect.
func (s *SharedState) Balance() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.balance == nil {
		return 0, false
	}
	return *s.balance, true
}

// ClearBalance drops the balance on disconnect (invariant 3).
func (s *SharedState) ClearBalance() {
	s.mu.Lock()
	s.balance = nil
	s.mu.Unlock()
}

// --- server time offset --------------------------------------------------

// SetServerTimeOffset records the signed offset between local and server
// clocks, updated on every server-time pong.
func (s *SharedState) SetServerTimeOffset(d time.Duration) {
	s.mu.Lock()
	s.serverTimeOffset = d
	s.mu.Unlock()
}

// ServerTimeOffset returns the current offset.
func (s *SharedState) ServerTimeOffset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverTimeOffset
}

// ServerNow returns the estimated current server time.
func (s *SharedState) ServerNow() time.Time {
	return time.Now().Add(s.ServerTimeOffset())
}

// --- asset table ----------------------------------------------------------

// SetAssets replaces the whole asset table (populated once on session start,
// refreshed on invalidation) and closes the AssetsReadyChan channel. Safe
// to call repeatedly across refreshes within the same ready cycle.
func (s *SharedState) SetAssets(assets []Asset) {
	s.assetsMu.Lock()
	defer s.assetsMu.Unlock()
	table := make(map[string]Asset, len(assets))
	for _, a := range assets {
		table[a.Symbol] = a
	}
	s.assetTable = table
	if !s.assetsClosed {
		close(s.assetsReady)
		s.assetsClosed = true
	}
}

// InvalidateAssets clears the table and resets the ready gate so a channel
// obtained from a fresh AssetsReadyChan call stays open until the next
// SetAssets.
func (s *SharedState) InvalidateAssets() {
	s.assetsMu.Lock()
	s.assetTable = make(map[string]Asset)
	s.assetsReady = make(chan struct{})
	s.assetsClosed = false
	s.assetsMu.Unlock()
}

// Asset looks up a single asset by symbol.
func (s *SharedState) Asset(symbol string) (Asset, bool) {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	a, ok := s.assetTable[symbol]
	return a, ok
}

// AssetsReadyChan returns the channel that closes once the asset table has
// been populated (or re-populated after an invalidation).
func (s *SharedState) AssetsReadyChan() <-chan struct{} {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	return s.assetsReady
}

// --- trade state ------------------------------------------------------

// PutOpenedDeal inserts a newly-confirmed deal into opened-deals. Per
// invariant 1, a trade id must not already be present in closed-deals;
// callers are expected to have reaped it from pending-orders first.
func (s *SharedState) PutOpenedDeal(d Deal) {
	s.tradeMu.Lock()
	s.openedDeals[d.TradeID] = d
	s.tradeMu.Unlock()
}

// OpenedDeal looks up an in-flight deal by trade id.
func (s *SharedState) OpenedDeal(tradeID string) (Deal, bool) {
	s.tradeMu.RLock()
	defer s.tradeMu.RUnlock()
	d, ok := s.openedDeals[tradeID]
	return d, ok
}

// CloseDeal moves a trade from opened-deals to closed-deals with its final
// result/profit, enforcing the ring buffer's fixed capacity (invariant 4).
// If the trade id is not present in opened-deals (§8: "a deal arriving on
// the wire with a requestId that no caller is waiting on"), the deal is
// still recorded in closed-deals without error.
func (s *SharedState) CloseDeal(d Deal) {
	s.tradeMu.Lock()
	delete(s.openedDeals, d.TradeID)
	s.closedDeals = append(s.closedDeals, d)
	cap := s.cfg.ClosedDealsCapacity
	if cap > 0 && len(s.closedDeals) > cap {
		overflow := len(s.closedDeals) - cap
		s.closedDeals = s.closedDeals[overflow:]
	}
	s.tradeMu.Unlock()
}

// ClosedDeal looks up a deal by trade id in the closed-deals ring.
func (s *SharedState) ClosedDeal(tradeID string) (Deal, bool) {
	s.tradeMu.RLock()
	defer s.tradeMu.RUnlock()
	for i := len(s.closedDeals) - 1; i >= 0; i-- {
		if s.closedDeals[i].TradeID == tradeID {
			return s.closedDeals[i], true
		}
	}
	return Deal{}, false
}

// ClosedDealsLen reports the current ring size, for the §8 closed-deals
// bound property.
func (s *SharedState) ClosedDealsLen() int {
	s.tradeMu.RLock()
	defer s.tradeMu.RUnlock()
	return len(s.closedDeals)
}

// OpenedDealsLen reports the number of deals awaiting a close event.
func (s *SharedState) OpenedDealsLen() int {
	s.tradeMu.RLock()
	defer s.tradeMu.RUnlock()
	return len(s.openedDeals)
}

// --- pending orders -----------------------------------------------------

// PutPendingOrder records an in-flight open-order before its frame leaves
// the writer.
func (s *SharedState) PutPendingOrder(p PendingOrder) {
	s.pendingMu.Lock()
	s.pending[p.Order.RequestID] = p
	s.pendingMu.Unlock()
}

// TakePendingOrder removes and returns a pending order by request id.
func (s *SharedState) TakePendingOrder(requestID string) (PendingOrder, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	return p, ok
}

// PendingOrders returns a snapshot of all pending orders, used by the
// reconciliation reconnection callback.
func (s *SharedState) PendingOrders() []PendingOrder {
	s.pendingMu.RLock()
	defer s.pendingMu.RUnlock()
	out := make([]PendingOrder, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// --- subscriptions --------------------------------------------------------

// PutSubscription registers an active subscription. Callers (the
// Subscriptions module) are responsible for enforcing the configured max
// before calling this.
func (s *SharedState) PutSubscription(sub *Subscription) {
	s.subMu.Lock()
	s.subsByAs[sub.Asset] = sub
	s.subMu.Unlock()
}

// RemoveSubscription deletes and returns an active subscription by asset.
func (s *SharedState) RemoveSubscription(asset string) (*Subscription, bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	sub, ok := s.subsByAs[asset]
	if ok {
		delete(s.subsByAs, asset)
	}
	return sub, ok
}

// Subscription looks up an active subscription by asset.
func (s *SharedState) Subscription(asset string) (*Subscription, bool) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	sub, ok := s.subsByAs[asset]
	return sub, ok
}

// Subscriptions returns a snapshot of all active subscriptions, used by the
// resubscribe reconnection callback.
func (s *SharedState) Subscriptions() []*Subscription {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	out := make([]*Subscription, 0, len(s.subsByAs))
	for _, sub := range s.subsByAs {
		out = append(out, sub)
	}
	return out
}

// SubscriptionCount reports |active-subscriptions| for the §8 cap property.
func (s *SharedState) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subsByAs)
}

// MarkSubscriptionsStale flags every active subscription as stale on
// disconnect (invariant 3); the resubscribe callback clears the flag once
// the changeSymbol frame is re-sent.
func (s *SharedState) MarkSubscriptionsStale() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subsByAs {
		sub.Stale = true
	}
}

// --- raw validators (copy-on-write) --------------------------------------

// RegisterValidator appends a descriptor to the raw-validators list.
func (s *SharedState) RegisterValidator(d RawValidatorDescriptor) {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	next := make([]RawValidatorDescriptor, len(s.validators)+1)
	copy(next, s.validators)
	next[len(s.validators)] = d
	s.validators = next
}

// UnregisterValidator removes a descriptor by id.
func (s *SharedState) UnregisterValidator(id string) {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	next := make([]RawValidatorDescriptor, 0, len(s.validators))
	for _, d := range s.validators {
		if d.ID != id {
			next = append(next, d)
		}
	}
	s.validators = next
}

// Validators returns the current copy-on-write snapshot; callers must not
// mutate the returned slice.
func (s *SharedState) Validators() []RawValidatorDescriptor {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	return s.validators
}

// --- disconnect reconciliation ------------------------------------------

// OnDisconnect applies invariant 3: balance is cleared, opened-deals and
// pending-orders are retained for reconciliation, active-subscriptions are
// marked stale rather than dropped.
func (s *SharedState) OnDisconnect() {
	s.ClearBalance()
	s.MarkSubscriptionsStale()
}
