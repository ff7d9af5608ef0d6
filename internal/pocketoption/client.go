package pocketoption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/capture"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/connector"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/dedup"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/middleware"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/router"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/rule"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/runner"
	"github.com/dkowalczyk/pocketoption-engine/internal/notify"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption/modules"
)

// Config carries the knobs the client needs beyond what SharedState and
// the connector already take, per the external configuration surface.
type Config struct {
	Endpoints        []string
	EndpointOverride string
	RegionListURL    string
	HandshakeTimeout time.Duration
	Backoff          runner.BackoffConfig
	State            domain.StateConfig
	MinAmount        float64
	MaxAmount        float64

	// Audit, Dedup, and Mirror are optional cross-cutting dependencies.
	// A nil value disables the corresponding behavior; New never requires
	// Redis or Postgres to be reachable. Callers build these from their
	// own infra clients and wire them in before the first Run.
	Audit  middleware.AuditStore
	Dedup  *dedup.DistributedWindow
	Mirror *modules.DealMirror

	// Capture, if set, taps every inbound/outbound frame for diagnostic
	// sampling. A nil value disables capture entirely; New never requires
	// an object store to be reachable.
	Capture *capture.Sampler

	// Notifier, if set, receives operator alerts for non-retryable
	// handshake rejections and repeated reconnection failures. A nil
	// value disables alerting entirely.
	Notifier *notify.Notifier
}

// DefaultConfig fills every knob with its documented default.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: connector.DefaultHandshakeTimeout,
		Backoff:          runner.DefaultBackoffConfig(),
		State:            domain.DefaultStateConfig(),
		MinAmount:        1,
		MaxAmount:        10000,
	}
}

// Client is the caller-facing PocketOption engine instance: it wires the
// connector, router, middleware stack, shared state, module runtime, and
// client runner into one cohesive session and exposes the handle surface
// listed in the component table (Trades, Deals, Subscriptions, Candles,
// Balance, Assets).
type Client struct {
	cfg    Config
	cred   domain.Credential
	blob   string
	runner *runner.Runner
	router *router.Router
	state  *domain.SharedState
	logger *slog.Logger

	trades        *modules.Trades
	deals         *modules.Deals
	subscriptions *modules.Subscriptions
	candles       *modules.Candles

	pendingRuns []runnable

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Client ready to Run. cred is the account identity; blob is
// the raw session token string used to build the auth frame.
func New(cfg Config, cred domain.Credential, sessionBlob string, logger *slog.Logger) *Client {
	logger = logger.With(slog.String("component", "pocketoption.client"))
	state := domain.NewSharedState(cred, cfg.State)
	rt := router.New(logger)
	mws := middleware.NewStack()
	if cfg.Capture != nil {
		mws.Append(cfg.Capture)
	}

	c := &Client{cfg: cfg, cred: cred, blob: sessionBlob, state: state, router: rt, logger: logger}

	connCfg := connector.Config{Endpoints: cfg.Endpoints, HandshakeTimeout: cfg.HandshakeTimeout}
	conn := connector.New(connCfg, logger)
	dialer := dialerAdapter{conn: conn, logger: logger}

	if cfg.RegionListURL != "" || cfg.EndpointOverride != "" {
		dialer.discovery = connector.NewEndpointDiscovery(cfg.RegionListURL, cfg.EndpointOverride)
	}

	runnerCfg := runner.DefaultConfig()
	runnerCfg.Backoff = cfg.Backoff
	runnerCfg.OnDialFailure = c.onDialFailure
	r := runner.New(runnerCfg, &dialer, rt, mws, state, logger)
	r.RegisterCallback(c.authCallback)
	r.RegisterCallback(c.resubscribeCallback)
	r.RegisterCallback(c.validatorReplayCallback)
	r.RegisterCallback(c.reconciliationCallback)
	c.runner = r

	c.wireModules(rt, r.Outbox(), logger)
	return c
}

// dialerAdapter satisfies runner.Dialer by optionally re-running endpoint
// discovery before delegating to the concrete connector.
type dialerAdapter struct {
	conn      *connector.Connector
	discovery *connector.EndpointDiscovery
	logger    *slog.Logger
}

func (d *dialerAdapter) Dial(ctx context.Context) (runner.Conn, string, error) {
	if d.discovery != nil {
		endpoints, err := d.discovery.Discover(ctx)
		if err != nil {
			return nil, "", domain.Wrap("pocketoption.client.dial", domain.KindTransport, err)
		}
		d.conn = connector.New(connector.Config{Endpoints: endpoints, HandshakeTimeout: connector.DefaultHandshakeTimeout}, d.logger)
	}
	c, endpoint, err := d.conn.Dial(ctx)
	if err != nil {
		return nil, "", err
	}
	return c, endpoint, nil
}

func (c *Client) wireModules(rt *router.Router, out chan<- domain.Frame, logger *slog.Logger) {
	keepAliveIn := make(chan domain.Frame, 16)
	balanceIn := make(chan domain.Frame, 16)
	assetsIn := make(chan domain.Frame, 16)
	serverTimeIn := make(chan domain.Frame, 16)
	tradesIn := make(chan domain.Frame, 64)
	dealsIn := make(chan domain.Frame, 64)
	subsIn := make(chan domain.Frame, 256)
	candlesIn := make(chan domain.Frame, 64)

	rt.Register(router.Route{Name: "keepalive", Rule: PingRule(), Inbox: keepAliveIn, Kind: domain.FrameText, Token: "2"})
	rt.Register(router.Route{Name: "balance", Rule: EventRule("successupdateBalance"), Inbox: balanceIn, Kind: domain.FrameText, Token: "successupdateBalance"})
	rt.Register(router.Route{Name: "assets", Rule: EventRule("updateAssets"), Inbox: assetsIn, Kind: domain.FrameText, Token: "updateAssets"})
	rt.Register(router.Route{Name: "servertime", Rule: ServerTimeRule(), Inbox: serverTimeIn, Kind: domain.FrameText})
	rt.Register(router.Route{Name: "trades", Rule: EventRule("successopenOrder"), Inbox: tradesIn, Kind: domain.FrameText,
		Token: "successopenOrder", Policy: router.BlockUnbounded})
	rt.Register(router.Route{Name: "trades_rejected", Rule: EventRule("failopenOrder"), Inbox: tradesIn, Kind: domain.FrameText,
		Token: "failopenOrder", Policy: router.BlockUnbounded})
	rt.Register(router.Route{Name: "deals", Rule: ClosedDealsPairingRule(), Inbox: dealsIn, Policy: router.BlockUnbounded})
	rt.Register(router.Route{Name: "deals_closed", Rule: EventRule("successcloseOrder"), Inbox: dealsIn, Kind: domain.FrameText,
		Token: "successcloseOrder", Policy: router.BlockUnbounded})
	rt.Register(router.Route{Name: "subscriptions", Rule: EventRule("updateStream"), Inbox: subsIn, Kind: domain.FrameText, Token: "updateStream"})
	rt.Register(router.Route{Name: "candles", Rule: EventRule("loadHistoryPeriodResponse"), Inbox: candlesIn, Kind: domain.FrameText,
		Token: "loadHistoryPeriodResponse", Policy: router.BlockUnbounded})
	rt.Register(router.Route{Name: "candles_advanced", Rule: EventRule("loadHistoryPeriodAllResponse"), Inbox: candlesIn, Kind: domain.FrameText,
		Token: "loadHistoryPeriodAllResponse", Policy: router.BlockUnbounded})

	c.trades = modules.NewTrades(tradesIn, out, c.state, logger, c.cfg.MinAmount, c.cfg.MaxAmount)
	c.deals = modules.NewDeals(dealsIn, out, c.state, logger)
	c.subscriptions = modules.NewSubscriptions(subsIn, out, c.state, logger)
	c.candles = modules.NewCandles(candlesIn, out, logger)

	if c.cfg.Audit != nil {
		c.trades.UseAudit(middleware.NewAuditMiddleware(c.cfg.Audit, logger, context.Background()))
	}
	if c.cfg.Dedup != nil {
		c.trades.UseDistributedDedup(c.cfg.Dedup)
	}
	if c.cfg.Mirror != nil {
		c.deals.UsePublisher(func(deal domain.Deal) {
			c.cfg.Mirror.Publish(context.Background(), deal)
		})
	}

	c.spawnModule(modules.NewKeepAlive(keepAliveIn, out, c.state, logger).Run)
	c.spawnModule(modules.NewBalance(balanceIn, out, c.state, logger).Run)
	c.spawnModule(modules.NewAssets(assetsIn, out, c.state, logger).Run)
	c.spawnModule(modules.NewServerTime(serverTimeIn, out, c.state, logger).Run)
	c.spawnModule(c.trades.Run)
	c.spawnModule(c.deals.Run)
	c.spawnModule(c.subscriptions.Run)
	c.spawnModule(c.candles.Run)
}

// runnable is the shape every module's Run method satisfies.
type runnable func(ctx context.Context)

// spawnModule records a module's Run function to be started once Run is
// called with the session's context.
func (c *Client) spawnModule(run runnable) {
	c.pendingRuns = append(c.pendingRuns, run)
}

// authCallback builds and sends the auth frame on every entry to the
// Connected state, including the very first.
func (c *Client) authCallback(ctx context.Context, state *domain.SharedState, out chan<- domain.Frame) error {
	frame, err := BuildAuthFrame(c.cred.UID, c.cred.Demo, c.blob)
	if err != nil {
		return fmt.Errorf("pocketoption.client: building auth frame: %w", err)
	}
	select {
	case out <- domain.NewTextFrame(string(frame)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resubscribeCallback replays every previously-active subscription's
// changeSymbol frame after a reconnect, so a caller's Subscription channel
// keeps receiving ticks without needing to re-call Subscribe.
func (c *Client) resubscribeCallback(ctx context.Context, state *domain.SharedState, out chan<- domain.Frame) error {
	for _, sub := range state.Subscriptions() {
		frame, err := BuildChangeSymbolFrame(sub.Asset, 0)
		if err != nil {
			return fmt.Errorf("pocketoption.client: rebuilding changeSymbol frame: %w", err)
		}
		select {
		case out <- domain.NewTextFrame(string(frame)):
		case <-ctx.Done():
			return ctx.Err()
		}
		sub.Stale = false
	}
	return nil
}

// validatorReplayCallback re-sends every raw-handler validator's
// registered keep-alive frame, if it has one, after a reconnect.
func (c *Client) validatorReplayCallback(ctx context.Context, state *domain.SharedState, out chan<- domain.Frame) error {
	for _, v := range state.Validators() {
		if v.KeepAliveFrame == nil {
			continue
		}
		select {
		case out <- domain.NewBinaryFrame(v.KeepAliveFrame):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// reconnectExhaustionThreshold is the number of consecutive failed dial
// attempts after which onDialFailure sends a "reconnect_exhausted" alert,
// so an operator is paged once per stretch of outage rather than once per
// retry.
const reconnectExhaustionThreshold = 5

// onDialFailure alerts the configured Notifier on a non-retryable
// handshake rejection and on every run of reconnectExhaustionThreshold
// consecutive failed attempts. A nil Notifier makes this a no-op.
func (c *Client) onDialFailure(err error, attempt int) {
	if c.cfg.Notifier == nil {
		return
	}
	ctx := context.Background()

	var engErr *domain.EngineError
	if errors.As(err, &engErr) && engErr.Kind == domain.KindHandshake {
		if nerr := c.cfg.Notifier.Notify(ctx, "handshake_failed", "PocketOption handshake failed", err.Error()); nerr != nil {
			c.logger.Warn("notify handshake_failed failed", slog.String("error", nerr.Error()))
		}
	}

	if attempt > 0 && attempt%reconnectExhaustionThreshold == 0 {
		msg := fmt.Sprintf("%d consecutive reconnection attempts have failed: %s", attempt, err.Error())
		if nerr := c.cfg.Notifier.Notify(ctx, "reconnect_exhausted", "PocketOption reconnection exhausted", msg); nerr != nil {
			c.logger.Warn("notify reconnect_exhausted failed", slog.String("error", nerr.Error()))
		}
	}
}

// reconciliationCallback resolves pending orders that were already stale
// before this reconnect: a
// reconnect means the connection that carried the original openOrder frame
// is gone, so there is no further evidence to wait for past the grace
// period. Callers blocked in Buy get an explicit ConnectionLost rather than
// hanging until their own context deadline.
func (c *Client) reconciliationCallback(ctx context.Context, state *domain.SharedState, out chan<- domain.Frame) error {
	c.trades.Reconcile(time.Now(), modules.ReconciliationThreshold)
	return nil
}

// Trades exposes order placement.
func (c *Client) Trades() *modules.Trades { return c.trades }

// Deals exposes trade-result lookups.
func (c *Client) Deals() *modules.Deals { return c.deals }

// Subscriptions exposes tick-stream management.
func (c *Client) Subscriptions() *modules.Subscriptions { return c.subscriptions }

// Candles exposes historical-candle requests.
func (c *Client) Candles() *modules.Candles { return c.candles }

// Balance returns the most recently observed account balance.
func (c *Client) Balance() (float64, bool) { return c.state.Balance() }

// Asset looks up one asset's metadata from the live asset table.
func (c *Client) Asset(symbol string) (domain.Asset, bool) { return c.state.Asset(symbol) }

// AssetsReady returns a channel that closes once the asset table has been
// populated, so callers can wait before placing their first trade.
func (c *Client) AssetsReady() <-chan struct{} { return c.state.AssetsReadyChan() }

// RunnerState returns the session's current connection state.
func (c *Client) RunnerState() runner.State { return c.runner.State() }

// Router exposes the route table read-only, for diagnostics callers that
// need route names and rule latch states (internal/admin's status snapshot).
func (c *Client) Router() *router.Router { return c.router }

// State exposes the shared state read-only, for diagnostics snapshots that
// need open/closed deal counts and active subscription counts.
func (c *Client) State() *domain.SharedState { return c.state }

// RegisterRawHandler wires an escape-hatch rule directly onto the router,
// for frame shapes no built-in module covers. keepAliveFrame, if
// non-nil, is replayed by the resubscribe-style reconnection callback so a
// caller-registered validator's own keep-alive survives a reconnect.
func (c *Client) RegisterRawHandler(name string, r rule.Rule, inbox chan<- domain.Frame, keepAliveFrame []byte) {
	c.router.Register(router.Route{Name: name, Rule: r, Inbox: inbox})
	c.state.RegisterValidator(domain.RawValidatorDescriptor{ID: name, KeepAliveFrame: keepAliveFrame})
}

// Run starts every module and the client runner, blocking until ctx is
// cancelled or Shutdown is called.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	defer close(c.done)

	if c.cfg.Mirror != nil {
		c.deals.UseMirror(c.cfg.Mirror.Tail(ctx))
	}
	if c.cfg.Capture != nil {
		go c.cfg.Capture.Run(ctx)
	}

	for _, run := range c.pendingRuns {
		go run(ctx)
	}
	return c.runner.Run(ctx)
}

// Shutdown requests a graceful stop of the runner and every module.
func (c *Client) Shutdown() {
	c.runner.Shutdown()
	if c.cancel != nil {
		c.cancel()
	}
}
