// Package app wires the optional infrastructure dependencies (Postgres,
// Redis, S3, notification senders) a poengine session needs from its
// configuration. Every dependency here is optional: Wire only connects
// what the config actually asks for, so a bare `raw_ssid` + endpoint
// config runs with no external services at all.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	capturestore "github.com/dkowalczyk/pocketoption-engine/internal/capture"
	captures3 "github.com/dkowalczyk/pocketoption-engine/internal/capture/s3"
	redisstore "github.com/dkowalczyk/pocketoption-engine/internal/cache/redis"
	"github.com/dkowalczyk/pocketoption-engine/internal/config"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/dedup"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/middleware"
	"github.com/dkowalczyk/pocketoption-engine/internal/notify"
	"github.com/dkowalczyk/pocketoption-engine/internal/pocketoption/modules"
	"github.com/dkowalczyk/pocketoption-engine/internal/store/postgres"
)

// Dependencies bundles every optional infrastructure dependency a session
// may use. Nil fields mean the corresponding config section was absent;
// callers (cmd/poengine) must treat every field as optional.
type Dependencies struct {
	AuditStore middleware.AuditStore
	Dedup      *dedup.DistributedWindow
	Mirror     *modules.DealMirror
	Notifier   *notify.Notifier
	Capture    *capturestore.Sampler
}

// Wire constructs every dependency the config asks for and returns a
// cleanup function that releases them in reverse acquisition order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (audit log) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis (distributed dedup + cross-instance deal mirror) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redisstore.New(ctx, redisstore.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		if cfg.Dedup.Enabled {
			limiter := redisstore.NewRateLimiter(redisClient)
			deps.Dedup = dedup.NewDistributedWindow(limiter, cfg.Dedup.Window.Duration)
		}

		deps.Mirror = modules.NewDealMirror(redisClient, logger)
	}

	// --- Protocol capture (diagnostic S3 sampler) ---
	if cfg.Capture.Enabled {
		s3Client, err := captures3.New(ctx, captures3.ClientConfig{
			Endpoint:       cfg.Capture.S3.Endpoint,
			Region:         cfg.Capture.S3.Region,
			Bucket:         cfg.Capture.S3.Bucket,
			AccessKey:      cfg.Capture.S3.AccessKey,
			SecretKey:      cfg.Capture.S3.SecretKey,
			ForcePathStyle: cfg.Capture.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: capture s3: %w", err)
		}
		archiver := captures3.NewArchiver(s3Client)
		deps.Capture = capturestore.NewSampler(capturestore.Config{
			SampleRate:    cfg.Capture.SampleRate,
			BufferSize:    cfg.Capture.BufferSize,
			FlushInterval: time.Minute,
		}, archiver, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
