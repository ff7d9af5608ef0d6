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

// assetWire is the server's wire shape for one row of the updateAssets
// table push.
type assetWire struct {
	Symbol string  `json:"symbol"`
	Payout float64 `json:"payout"`
	Times  []int64 `json:"times"` // allowed duration seconds
}

// NewAssets builds the lightweight module that maintains the tradable
// asset table off the server's updateAssets event.
func NewAssets(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger) *module.Lightweight {
	return &module.Lightweight{
		Name:    "assets",
		In:      in,
		Out:     out,
		State:   state,
		Logger:  logger,
		Handler: assetsHandler,
	}
}

func assetsHandler(ctx context.Context, f domain.Frame, state *domain.SharedState, out chan<- domain.Frame) error {
	ev, ok := pocketoption.ParseEvent(f.String())
	if !ok {
		return fmt.Errorf("assets: frame is not a framed event: %q", f.String())
	}
	var wire []assetWire
	if err := json.Unmarshal(ev.Payload, &wire); err != nil {
		return fmt.Errorf("assets: decoding %s payload: %w", ev.Name, err)
	}

	assets := make([]domain.Asset, 0, len(wire))
	for _, a := range wire {
		assets = append(assets, domain.Asset{
			Symbol:            a.Symbol,
			Payout:            a.Payout,
			AllowedDurationsS: a.Times,
			IsOTC:             domain.IsOTCSymbol(a.Symbol),
		})
	}
	state.SetAssets(assets)
	return nil
}
