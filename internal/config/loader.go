package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Credential ──
	setInt64(&cfg.Credential.UID, "POE_CREDENTIAL_UID")
	setBool(&cfg.Credential.Demo, "POE_CREDENTIAL_DEMO")
	setStr(&cfg.Credential.RawSSID, "POE_CREDENTIAL_RAW_SSID")
	setStr(&cfg.Credential.EncryptedSSIDPath, "POE_CREDENTIAL_ENCRYPTED_SSID_PATH")
	setStr(&cfg.Credential.EncryptedSSIDPassword, "POE_CREDENTIAL_PASSWORD")

	// ── Connector ──
	setStringSlice(&cfg.Connector.Endpoints, "POE_CONNECTOR_ENDPOINTS")
	setStr(&cfg.Connector.EndpointOverride, "POE_CONNECTOR_ENDPOINT_OVERRIDE")
	setStr(&cfg.Connector.RegionListURL, "POE_CONNECTOR_REGION_LIST_URL")
	setDuration(&cfg.Connector.HandshakeTimeout, "POE_CONNECTOR_HANDSHAKE_TIMEOUT")

	// ── Reconnect ──
	setDuration(&cfg.Reconnect.Base, "POE_RECONNECT_BASE")
	setDuration(&cfg.Reconnect.Cap, "POE_RECONNECT_CAP")

	// ── Timeouts ──
	setDuration(&cfg.Timeouts.CallbackDeadline, "POE_TIMEOUTS_CALLBACK_DEADLINE")

	// ── State knobs ──
	setInt(&cfg.ClosedDeals.Capacity, "POE_CLOSED_DEALS_CAPACITY")
	setDuration(&cfg.Waitlist.TTL, "POE_WAITLIST_TTL")
	setInt(&cfg.Waitlist.Capacity, "POE_WAITLIST_CAPACITY")
	setDuration(&cfg.PendingOrders.TTL, "POE_PENDING_ORDERS_TTL")
	setInt(&cfg.Subscriptions.Max, "POE_SUBSCRIPTIONS_MAX")

	// ── Dedup / Redis ──
	setBool(&cfg.Dedup.Enabled, "POE_DEDUP_ENABLED")
	setDuration(&cfg.Dedup.Window, "POE_DEDUP_WINDOW")
	setStr(&cfg.Redis.Addr, "POE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "POE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POE_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POE_POSTGRES_RUN_MIGRATIONS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POE_NOTIFY_EVENTS")

	// ── Capture ──
	setBool(&cfg.Capture.Enabled, "POE_CAPTURE_ENABLED")
	setFloat64(&cfg.Capture.SampleRate, "POE_CAPTURE_SAMPLE_RATE")
	setStr(&cfg.Capture.S3.Bucket, "POE_CAPTURE_S3_BUCKET")
	setStr(&cfg.Capture.S3.Endpoint, "POE_CAPTURE_S3_ENDPOINT")
	setStr(&cfg.Capture.S3.Region, "POE_CAPTURE_S3_REGION")
	setStr(&cfg.Capture.S3.AccessKey, "POE_CAPTURE_S3_ACCESS_KEY")
	setStr(&cfg.Capture.S3.SecretKey, "POE_CAPTURE_S3_SECRET_KEY")

	// ── Admin ──
	setBool(&cfg.Admin.Enabled, "POE_ADMIN_ENABLED")
	setInt(&cfg.Admin.Port, "POE_ADMIN_PORT")
	setStringSlice(&cfg.Admin.CORSOrigins, "POE_ADMIN_CORS_ORIGINS")

	// ── Top-level ──
	setFloat64(&cfg.MinAmount, "POE_MIN_AMOUNT")
	setFloat64(&cfg.MaxAmount, "POE_MAX_AMOUNT")
	setStr(&cfg.Mode, "POE_MODE")
	setStr(&cfg.LogLevel, "POE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
