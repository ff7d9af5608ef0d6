// Package module provides the two runtime shapes every protocol module is
// built from: the plain lightweight module (inbox-only, react/mutate/emit)
// and the API module helper (command channel plus per-request one-shot
// response sinks, to avoid a shared response channel's mis-attribution
// hazard under caller cancellation).
package module

import (
	"context"
	"log/slog"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// Handler decodes one inbound frame, mutates shared state, and optionally
// emits outbound frames. Decode errors must be logged and swallowed — a
// lightweight module must never terminate its task over one bad frame.
type Handler func(ctx context.Context, f domain.Frame, state *domain.SharedState, out chan<- domain.Frame) error

// Lightweight runs a task that reads f from in, applies h, and keeps going
// until ctx is cancelled or in is closed (shutdown). It never panics out of
// a decode error; Handler errors are logged and the loop continues.
type Lightweight struct {
	Name    string
	In      <-chan domain.Frame
	Out     chan<- domain.Frame
	State   *domain.SharedState
	Handler Handler
	Logger  *slog.Logger
}

// Run blocks until ctx is cancelled or In is closed.
func (m *Lightweight) Run(ctx context.Context) {
	logger := m.Logger.With(slog.String("module", m.Name))
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-m.In:
			if !ok {
				return
			}
			if err := m.safeHandle(ctx, f, logger); err != nil {
				logger.Warn("handler error, continuing", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *Lightweight) safeHandle(ctx context.Context, f domain.Frame, logger *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panic recovered", slog.Any("panic", rec))
		}
	}()
	return m.Handler(ctx, f, m.State, m.Out)
}
