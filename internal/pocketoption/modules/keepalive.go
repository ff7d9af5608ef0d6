// Package modules holds the concrete lightweight and API modules wired
// onto the engine runtime for a PocketOption session: keep-alive, balance,
// assets, server time, trades, deals, subscriptions, and candles.
package modules

import (
	"context"
	"log/slog"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/module"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
)

// NewKeepAlive builds the lightweight module that answers every server
// ping with a pong control token on the same connection cycle.
func NewKeepAlive(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger) *module.Lightweight {
	return &module.Lightweight{
		Name:    "keepalive",
		In:      in,
		Out:     out,
		State:   state,
		Logger:  logger,
		Handler: keepAliveHandler,
	}
}

func keepAliveHandler(ctx context.Context, f domain.Frame, state *domain.SharedState, out chan<- domain.Frame) error {
	select {
	case out <- domain.NewTextFrame(pocketoption.ControlPong):
	case <-ctx.Done():
	}
	return nil
}
