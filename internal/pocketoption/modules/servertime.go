package modules

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/module"
)

// NewServerTime builds the lightweight module that tracks the local/server
// clock offset off the server's bare epoch-millis keepalive push.
func NewServerTime(in <-chan domain.Frame, out chan<- domain.Frame, state *domain.SharedState, logger *slog.Logger) *module.Lightweight {
	return &module.Lightweight{
		Name:    "servertime",
		In:      in,
		Out:     out,
		State:   state,
		Logger:  logger,
		Handler: serverTimeHandler,
	}
}

func serverTimeHandler(ctx context.Context, f domain.Frame, state *domain.SharedState, out chan<- domain.Frame) error {
	raw := f.String()
	epoch, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("servertime: parsing epoch frame %q: %w", raw, err)
	}

	var serverTime time.Time
	if len(raw) >= 13 {
		serverTime = time.UnixMilli(epoch)
	} else {
		serverTime = time.Unix(epoch, 0)
	}
	state.SetServerTimeOffset(time.Until(serverTime))
	return nil
}
