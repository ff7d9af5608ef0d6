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

type balanceUpdate struct {
	Balance float64 `json:"balance"`
}

// NewBalance builds the lightweight module that tracks the account
// balance off the server's successupdateBalance event.
func NewBalance(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger) *module.Lightweight {
	return &module.Lightweight{
		Name:    "balance",
		In:      in,
		Out:     out,
		State:   state,
		Logger:  logger,
		Handler: balanceHandler,
	}
}

func balanceHandler(ctx context.Context, f domain.Frame, state *domain.SharedState, out chan<- domain.Frame) error {
	ev, ok := pocketoption.ParseEvent(f.String())
	if !ok {
		return fmt.Errorf("balance: frame is not a framed event: %q", f.String())
	}
	var upd balanceUpdate
	if err := json.Unmarshal(ev.Payload, &upd); err != nil {
		return fmt.Errorf("balance: decoding %s payload: %w", ev.Name, err)
	}
	state.SetBalance(upd.Balance)
	return nil
}
