package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/module"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
)

type tickWire struct {
	Asset string  `json:"asset"`
	Price float64 `json:"price"`
	Time  int64   `json:"time"`
}

// subscribeRequest and unsubscribeRequest are the Req payloads for
// Subscriptions commands.
type subscribeRequest struct{ asset string }
type unsubscribeRequest struct{ asset string }

// Subscriptions is the API module managing tick streams: Subscribe opens
// (or returns the existing) stream for an asset, enforcing the configured
// max-concurrent-subscriptions bound; Unsubscribe tears one down.
type Subscriptions struct {
	Commands chan module.Command

	in     <-chan domain.Frame
	out    chan<- domain.Frame
	state  *domain.SharedState
	logger *slog.Logger
}

// NewSubscriptions builds the Subscriptions module.
func NewSubscriptions(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger) *Subscriptions {
	return &Subscriptions{
		Commands: make(chan module.Command, 32),
		in:       in,
		out:      out,
		state:    state,
		logger:   logger.With(slog.String("module", "subscriptions")),
	}
}

// Subscribe opens a tick stream for asset, or returns the existing one.
func (s *Subscriptions) Subscribe(ctx context.Context, asset string) (*domain.Subscription, error) {
	cmd, replyCh := module.NewCommand(subscribeRequest{asset: asset})
	select {
	case s.Commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	v, err := module.Await(ctx, replyCh)
	if err != nil {
		return nil, err
	}
	sub, _ := v.(*domain.Subscription)
	return sub, nil
}

// Unsubscribe tears down asset's tick stream, if any.
func (s *Subscriptions) Unsubscribe(ctx context.Context, asset string) error {
	cmd, replyCh := module.NewCommand(unsubscribeRequest{asset: asset})
	select {
	case s.Commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := module.Await(ctx, replyCh)
	return err
}

// Run drives the command and inbox loops until ctx is cancelled.
func (s *Subscriptions) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.Commands:
			s.handleCommand(ctx, cmd)
		case f, ok := <-s.in:
			if !ok {
				return
			}
			s.handleFrame(f)
		}
	}
}

func (s *Subscriptions) handleCommand(ctx context.Context, cmd module.Command) {
	switch req := cmd.Req.(type) {
	case subscribeRequest:
		s.handleSubscribe(ctx, cmd, req.asset)
	case unsubscribeRequest:
		s.handleUnsubscribe(cmd, req.asset)
	}
}

func (s *Subscriptions) handleSubscribe(ctx context.Context, cmd module.Command, asset string) {
	if sub, ok := s.state.Subscription(asset); ok {
		replySubscription(cmd, sub, nil)
		return
	}
	if s.state.SubscriptionCount() >= s.state.Config().SubscriptionsMax {
		replySubscription(cmd, nil, domain.NewError("pocketoption.subscriptions.subscribe", domain.KindValidation,
			fmt.Sprintf("subscription limit of %d reached", s.state.Config().SubscriptionsMax)))
		return
	}

	sub := &domain.Subscription{Asset: asset, Kind: domain.SubscriptionTicks, Ch: make(chan domain.Tick, 64)}
	s.state.PutSubscription(sub)

	frame, err := pocketoption.BuildChangeSymbolFrame(asset, 0)
	if err != nil {
		replySubscription(cmd, nil, domain.Wrap("pocketoption.subscriptions.subscribe", domain.KindInternal, err))
		return
	}
	select {
	case s.out <- domain.NewTextFrame(string(frame)):
	case <-ctx.Done():
	}
	replySubscription(cmd, sub, nil)
}

func (s *Subscriptions) handleUnsubscribe(cmd module.Command, asset string) {
	if sub, ok := s.state.RemoveSubscription(asset); ok {
		sub.Close()
	}
	cmd.Reply <- module.Result{}
}

func replySubscription(cmd module.Command, sub *domain.Subscription, err error) {
	cmd.Reply <- module.Result{Value: sub, Err: err}
}

func (s *Subscriptions) handleFrame(f domain.Frame) {
	ev, ok := pocketoption.ParseEvent(f.String())
	if !ok || ev.Name != "updateStream" {
		return
	}
	var ticks []tickWire
	if err := json.Unmarshal(ev.Payload, &ticks); err != nil {
		s.logger.Warn("decoding tick update", slog.String("error", err.Error()))
		return
	}
	for _, w := range ticks {
		sub, ok := s.state.Subscription(w.Asset)
		if !ok {
			continue
		}
		select {
		case sub.Ch <- domain.Tick{Asset: w.Asset, Price: w.Price, Time: w.Time}:
		default:
			s.logger.Debug("tick dropped, subscriber not keeping up", slog.String("asset", w.Asset))
		}
	}
}
