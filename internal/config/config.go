// Package config defines the top-level configuration for the PocketOption
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POE_* environment variables.
type Config struct {
	Credential    CredentialConfig    `toml:"credential"`
	Connector     ConnectorConfig     `toml:"connector"`
	Reconnect     ReconnectConfig     `toml:"reconnect"`
	Timeouts      TimeoutsConfig      `toml:"timeouts"`
	ClosedDeals   ClosedDealsConfig   `toml:"closed_deals"`
	Waitlist      WaitlistConfig      `toml:"waitlist"`
	PendingOrders PendingOrdersConfig `toml:"pending_orders"`
	Subscriptions SubscriptionsConfig `toml:"subscriptions"`
	Dedup         DedupConfig         `toml:"dedup"`
	Redis         RedisConfig         `toml:"redis"`
	Postgres      PostgresConfig      `toml:"postgres"`
	Notify        NotifyConfig        `toml:"notify"`
	Capture       CaptureConfig       `toml:"capture"`
	Admin         AdminConfig         `toml:"admin"`

	MinAmount float64 `toml:"min_amount"`
	MaxAmount float64 `toml:"max_amount"`
	Mode      string  `toml:"mode"`
	LogLevel  string  `toml:"log_level"`
}

// CredentialConfig locates the PocketOption session identity. Exactly one
// of RawSSID or EncryptedSSIDPath should be set; EncryptedSSIDPassword
// decrypts the latter and is always sourced from POE_CREDENTIAL_PASSWORD,
// never written to the TOML file.
type CredentialConfig struct {
	UID                   int64  `toml:"uid"`
	Demo                  bool   `toml:"demo"`
	RawSSID               string `toml:"raw_ssid"`
	EncryptedSSIDPath     string `toml:"encrypted_ssid_path"`
	EncryptedSSIDPassword string `toml:"-"`
}

// ConnectorConfig holds the WebSocket endpoint discovery parameters.
type ConnectorConfig struct {
	Endpoints        []string `toml:"endpoints"`
	EndpointOverride string   `toml:"endpoint_override"`
	RegionListURL    string   `toml:"region_list_url"`
	HandshakeTimeout duration `toml:"handshake_timeout"`
}

// ReconnectConfig controls the runner's exponential backoff.
type ReconnectConfig struct {
	Base duration `toml:"base"`
	Cap  duration `toml:"cap"`
}

// TimeoutsConfig holds miscellaneous deadline knobs.
type TimeoutsConfig struct {
	CallbackDeadline duration `toml:"callback_deadline"`
}

// ClosedDealsConfig bounds the closed-deals ring kept in shared state.
type ClosedDealsConfig struct {
	Capacity int `toml:"capacity"`
}

// WaitlistConfig bounds the trade-result waitlist's size and entry lifetime.
type WaitlistConfig struct {
	TTL      duration `toml:"ttl"`
	Capacity int      `toml:"capacity"`
}

// PendingOrdersConfig bounds how long an unacknowledged order is tracked.
type PendingOrdersConfig struct {
	TTL duration `toml:"ttl"`
}

// SubscriptionsConfig caps concurrent tick-stream subscriptions.
type SubscriptionsConfig struct {
	Max int `toml:"max"`
}

// DedupConfig configures the distributed idempotency window backing the
// Trades module's duplicate-order suppression.
type DedupConfig struct {
	Enabled bool     `toml:"enabled"`
	Window  duration `toml:"window"`
}

// RedisConfig holds Redis connection parameters, shared by dedup and the
// waitlist mirror.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the audit-store connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// CaptureConfig controls the optional protocol-capture sampler.
type CaptureConfig struct {
	Enabled    bool     `toml:"enabled"`
	SampleRate float64  `toml:"sample_rate"`
	BufferSize int      `toml:"buffer_size"`
	S3         S3Config `toml:"s3"`
}

// S3Config holds S3-compatible object storage parameters for capture flushes.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AdminConfig holds the diagnostics HTTP/WS surface parameters.
type AdminConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values,
// matching the documented defaults where one exists.
func Defaults() Config {
	return Config{
		Connector: ConnectorConfig{
			HandshakeTimeout: duration{10 * time.Second},
		},
		Reconnect: ReconnectConfig{
			Base: duration{5 * time.Second},
			Cap:  duration{300 * time.Second},
		},
		Timeouts: TimeoutsConfig{
			CallbackDeadline: duration{10 * time.Second},
		},
		ClosedDeals: ClosedDealsConfig{
			Capacity: 256,
		},
		Waitlist: WaitlistConfig{
			TTL:      duration{5 * time.Minute},
			Capacity: 1024,
		},
		PendingOrders: PendingOrdersConfig{
			TTL: duration{120 * time.Second},
		},
		Subscriptions: SubscriptionsConfig{
			Max: 4,
		},
		Dedup: DedupConfig{
			Enabled: false,
			Window:  duration{30 * time.Second},
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			Database:     "pocketoption_engine",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Notify: NotifyConfig{
			Events: []string{"handshake_failed", "connection_lost", "reconnect_exhausted"},
		},
		Capture: CaptureConfig{
			Enabled:    false,
			SampleRate: 0.01,
			BufferSize: 512,
		},
		Admin: AdminConfig{
			Enabled:     true,
			Port:        8090,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		MinAmount: 1,
		MaxAmount: 10000,
		Mode:      "run",
		LogLevel:  "info",
	}
}

var validModes = map[string]bool{
	"run":     true,
	"capture": true,
	"server":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, capture, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Credential.RawSSID == "" && c.Credential.EncryptedSSIDPath == "" {
		errs = append(errs, "credential: either raw_ssid or encrypted_ssid_path must be set")
	}
	if c.Credential.EncryptedSSIDPath != "" && c.Credential.EncryptedSSIDPassword == "" {
		errs = append(errs, "credential: POE_CREDENTIAL_PASSWORD is required when encrypted_ssid_path is set")
	}

	if len(c.Connector.Endpoints) == 0 && c.Connector.RegionListURL == "" && c.Connector.EndpointOverride == "" {
		errs = append(errs, "connector: at least one of endpoints, endpoint_override, or region_list_url must be set")
	}

	if c.MinAmount <= 0 {
		errs = append(errs, "min_amount must be > 0")
	}
	if c.MaxAmount <= c.MinAmount {
		errs = append(errs, "max_amount must be greater than min_amount")
	}

	if c.Subscriptions.Max < 1 {
		errs = append(errs, "subscriptions: max must be >= 1")
	}
	if c.ClosedDeals.Capacity < 1 {
		errs = append(errs, "closed_deals: capacity must be >= 1")
	}
	if c.Waitlist.Capacity < 1 {
		errs = append(errs, "waitlist: capacity must be >= 1")
	}

	if c.Dedup.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when dedup.enabled is true")
	}

	if c.Capture.Enabled {
		if c.Capture.SampleRate <= 0 || c.Capture.SampleRate > 1 {
			errs = append(errs, "capture: sample_rate must be in (0, 1]")
		}
		if c.Capture.S3.Bucket == "" {
			errs = append(errs, "capture: s3.bucket must not be empty when capture.enabled is true")
		}
	}

	if c.Admin.Enabled {
		if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
			errs = append(errs, fmt.Sprintf("admin: port must be 1-65535, got %d", c.Admin.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
