package modules

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/module"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
)

// Candle is one OHLC bar returned by a history request.
type Candle struct {
	Time  int64
	Open  float64
	High  float64
	Low   float64
	Close float64
}

type candleHistoryRequest struct {
	asset     string
	periodS   int64
	count     int
	fromTime  int64
	advanced  bool
	requestID string
}

type candleHistoryWire struct {
	RequestID string   `json:"requestId"`
	Candles   []Candle `json:"candles"`
}

// Candles is the API module fronting historical-candle requests,
// correlated by request id like Trades.
type Candles struct {
	Commands chan module.Command

	in      <-chan domain.Frame
	out     chan<- domain.Frame
	tracker *module.CorrelationTracker
	logger  *slog.Logger
}

// NewCandles builds the Candles module.
func NewCandles(in <-chan domain.Frame, out chan<- domain.Frame, logger *slog.Logger) *Candles {
	logger = logger.With(slog.String("module", "candles"))
	return &Candles{
		Commands: make(chan module.Command, 32),
		in:       in,
		out:      out,
		tracker:  module.NewCorrelationTracker(logger),
		logger:   logger,
	}
}

// GetCandles requests the most recent count candles for asset at the given
// period and blocks until the server's response arrives or ctx is
// cancelled.
func (c *Candles) GetCandles(ctx context.Context, asset string, periodS int64, count int) ([]Candle, error) {
	return c.request(ctx, candleHistoryRequest{asset: asset, periodS: periodS, count: count})
}

// GetCandlesAdvanced requests count candles for asset at the given period
// starting from fromTime, for paging deeper into history than a single
// GetCandles call reaches. It correlates against the server's
// loadHistoryPeriodAll response rather than loadHistoryPeriod's.
func (c *Candles) GetCandlesAdvanced(ctx context.Context, asset string, periodS int64, count int, fromTime int64) ([]Candle, error) {
	return c.request(ctx, candleHistoryRequest{asset: asset, periodS: periodS, count: count, fromTime: fromTime, advanced: true})
}

func (c *Candles) request(ctx context.Context, req candleHistoryRequest) ([]Candle, error) {
	req.requestID = uuid.NewString()
	cmd, replyCh := module.NewCommand(req)
	select {
	case c.Commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	v, err := module.Await(ctx, replyCh)
	if err != nil {
		c.tracker.Cancel(req.requestID)
		return nil, err
	}
	candles, _ := v.([]Candle)
	return candles, nil
}

// Run drives the command and inbox loops until ctx is cancelled.
func (c *Candles) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.Commands:
			c.handleCommand(ctx, cmd)
		case f, ok := <-c.in:
			if !ok {
				return
			}
			c.handleFrame(f)
		}
	}
}

func (c *Candles) handleCommand(ctx context.Context, cmd module.Command) {
	req, ok := cmd.Req.(candleHistoryRequest)
	if !ok {
		return
	}
	c.tracker.Track(req.requestID, cmd)

	eventName := "loadHistoryPeriod"
	var payload any = struct {
		Asset     string `json:"asset"`
		Period    int64  `json:"period"`
		Count     int    `json:"count"`
		RequestID string `json:"requestId"`
	}{Asset: req.asset, Period: req.periodS, Count: req.count, RequestID: req.requestID}
	if req.advanced {
		eventName = "loadHistoryPeriodAll"
		payload = struct {
			Asset     string `json:"asset"`
			Period    int64  `json:"period"`
			Count     int    `json:"count"`
			Time      int64  `json:"time"`
			RequestID string `json:"requestId"`
		}{Asset: req.asset, Period: req.periodS, Count: req.count, Time: req.fromTime, RequestID: req.requestID}
	}

	frame, err := pocketoption.EncodeEvent(pocketoption.OpcodeEvent, eventName, payload)
	if err != nil {
		c.tracker.Resolve(req.requestID, nil, domain.Wrap("pocketoption.candles.history", domain.KindInternal, err))
		return
	}
	select {
	case c.out <- domain.NewTextFrame(string(frame)):
	case <-ctx.Done():
	}
}

func (c *Candles) handleFrame(f domain.Frame) {
	ev, ok := pocketoption.ParseEvent(f.String())
	if !ok || (ev.Name != "loadHistoryPeriodResponse" && ev.Name != "loadHistoryPeriodAllResponse") {
		return
	}
	var wire candleHistoryWire
	if err := json.Unmarshal(ev.Payload, &wire); err != nil {
		c.logger.Warn("decoding candle history response", slog.String("error", err.Error()))
		return
	}
	if !c.tracker.Resolve(wire.RequestID, wire.Candles, nil) {
		c.logger.Debug("candle history response for unknown request id", slog.String("request_id", wire.RequestID))
	}
}
