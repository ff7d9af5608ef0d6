// Package admin implements the operator-facing diagnostics HTTP server:
// /healthz and /status for simple polling, plus a WebSocket status hub for
// tooling that wants a live push feed. This is ops tooling, not the
// excluded CLI/GUI trading client itself — it never places trades or
// exposes account credentials.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/admin/proto"
	adminws "github.com/dkowalczyk/pocketoption-engine/internal/admin/ws"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/router"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/runner"
	servermw "github.com/dkowalczyk/pocketoption-engine/internal/server/middleware"
)

// defaultSnapshotInterval is how often the WebSocket hub pushes a fresh
// status snapshot to connected clients.
const defaultSnapshotInterval = 2 * time.Second

// Config holds the admin server's HTTP configuration, mirroring
// internal/config's AdminConfig section.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Engine is the subset of pocketoption.Client the admin server needs, kept
// as a narrow interface so tests can substitute a fake session.
type Engine interface {
	RunnerState() runner.State
	Balance() (float64, bool)
	State() *domain.SharedState
	Router() *router.Router
}

// Server is the admin HTTP + WebSocket diagnostics surface.
type Server struct {
	httpServer *http.Server
	hub        *adminws.Hub
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewServer builds a Server wired against one engine session. mode is the
// process mode reported in snapshots (run/capture/server).
func NewServer(cfg Config, engine Engine, mode string, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "admin"))
	startedAt := time.Now()

	snapshot := func() proto.StatusSnapshot { return buildSnapshot(engine, mode, startedAt) }
	hub := adminws.NewHub(snapshot, defaultSnapshotInterval, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(w, r, engine, mode, startedAt)
	})
	mux.HandleFunc("GET /ws", hub.HandleWS)

	var h http.Handler = mux
	h = servermw.Logging(logger)(h)
	h = servermw.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		hub:       hub,
		logger:    logger,
		mode:      mode,
		startedAt: startedAt,
	}
}

// Run starts the hub's snapshot loop and the HTTP listener, blocking until
// ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		if err := s.hub.Run(ctx); err != nil && err != context.Canceled {
			s.logger.Warn("admin ws hub stopped", slog.String("error", err.Error()))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func handleStatus(w http.ResponseWriter, r *http.Request, engine Engine, mode string, startedAt time.Time) {
	snap := buildSnapshot(engine, mode, startedAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":                 snap.Mode,
		"connection_state":     snap.ConnectionState,
		"balance_known":        snap.BalanceKnown,
		"balance":              snap.Balance,
		"open_deals":           snap.OpenDeals,
		"closed_deals":         snap.ClosedDeals,
		"active_subscriptions": snap.ActiveSubscriptions,
		"uptime_seconds":       snap.UptimeSeconds,
		"rule_latches":         snap.RuleLatches,
	})
}

func buildSnapshot(engine Engine, mode string, startedAt time.Time) proto.StatusSnapshot {
	balance, known := engine.Balance()
	state := engine.State()

	return proto.StatusSnapshot{
		Mode:                mode,
		ConnectionState:     engine.RunnerState().String(),
		BalanceKnown:        known,
		Balance:             balance,
		OpenDeals:           int64(state.OpenedDealsLen()),
		ClosedDeals:         int64(state.ClosedDealsLen()),
		ActiveSubscriptions: int64(state.SubscriptionCount()),
		UptimeSeconds:       int64(time.Since(startedAt).Seconds()),
		RuleLatches:         ruleLatches(engine.Router()),
	}
}

func ruleLatches(rt *router.Router) []proto.RuleLatch {
	var out []proto.RuleLatch
	for _, route := range rt.Routes() {
		if armed, ok := route.Rule.(interface{ Armed() bool }); ok {
			out = append(out, proto.RuleLatch{Name: route.Name, Armed: armed.Armed()})
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
