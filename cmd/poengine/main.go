// Command poengine is the long-running PocketOption engine process. It
// loads configuration, wires optional infrastructure, and runs a single
// session until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkowalczyk/pocketoption-engine/internal/admin"
	"github.com/dkowalczyk/pocketoption-engine/internal/app"
	"github.com/dkowalczyk/pocketoption-engine/internal/config"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/credstore"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/runner"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("poengine starting", slog.String("mode", cfg.Mode), slog.String("config", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		if err == context.Canceled {
			logger.Info("poengine shut down gracefully")
			return
		}
		logger.Error("poengine exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("poengine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ssid, err := credstore.Load(credstore.Config{
		RawSSID:           cfg.Credential.RawSSID,
		EncryptedSSIDPath: cfg.Credential.EncryptedSSIDPath,
		Password:          cfg.Credential.EncryptedSSIDPassword,
	})
	if err != nil {
		return fmt.Errorf("resolving session credential: %w", err)
	}

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}
	defer cleanup()

	cred := domain.Credential{Kind: credKind(cfg.Credential.Demo), UID: cfg.Credential.UID, Demo: cfg.Credential.Demo}

	engineCfg := pocketoption.DefaultConfig()
	engineCfg.Endpoints = cfg.Connector.Endpoints
	engineCfg.EndpointOverride = cfg.Connector.EndpointOverride
	engineCfg.RegionListURL = cfg.Connector.RegionListURL
	engineCfg.HandshakeTimeout = cfg.Connector.HandshakeTimeout.Duration
	engineCfg.Backoff = runner.BackoffConfig{Base: cfg.Reconnect.Base.Duration, Cap: cfg.Reconnect.Cap.Duration}
	engineCfg.State = domain.StateConfig{
		ClosedDealsCapacity: cfg.ClosedDeals.Capacity,
		PendingOrdersTTL:    cfg.PendingOrders.TTL.Duration,
		WaitlistTTL:         cfg.Waitlist.TTL.Duration,
		WaitlistCapacity:    cfg.Waitlist.Capacity,
		SubscriptionsMax:    cfg.Subscriptions.Max,
	}
	engineCfg.MinAmount = cfg.MinAmount
	engineCfg.MaxAmount = cfg.MaxAmount
	engineCfg.Audit = deps.AuditStore
	engineCfg.Dedup = deps.Dedup
	engineCfg.Mirror = deps.Mirror
	engineCfg.Capture = deps.Capture
	engineCfg.Notifier = deps.Notifier

	client := pocketoption.New(engineCfg, cred, ssid, logger)

	if !cfg.Admin.Enabled {
		return client.Run(ctx)
	}

	adminSrv := admin.NewServer(admin.Config{Port: cfg.Admin.Port, CORSOrigins: cfg.Admin.CORSOrigins}, client, cfg.Mode, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- client.Run(ctx) }()
	go func() { errCh <- adminSrv.Run(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && err != context.Canceled && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func credKind(demo bool) domain.CredentialKind {
	if demo {
		return domain.CredentialDemo
	}
	return domain.CredentialReal
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
