package config

// Redacted returns a shallow copy of cfg with sensitive fields replaced by
// the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func Redacted(cfg *Config) Config {
	out := *cfg

	out.Credential = cfg.Credential
	redact(&out.Credential.RawSSID)
	redact(&out.Credential.EncryptedSSIDPassword)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Capture = cfg.Capture
	redact(&out.Capture.S3.SecretKey)
	redact(&out.Capture.S3.AccessKey)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Connector.Endpoints != nil {
		out.Connector.Endpoints = append([]string(nil), cfg.Connector.Endpoints...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Admin.CORSOrigins != nil {
		out.Admin.CORSOrigins = append([]string(nil), cfg.Admin.CORSOrigins...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
