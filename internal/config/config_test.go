package config

import "testing"

func validConfig() Config {
	cfg := Defaults()
	cfg.Credential.RawSSID = "raw-session-blob"
	cfg.Connector.Endpoints = []string{"wss://example.invalid/socket.io"}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a valid config, got: %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestValidateRequiresACredentialSource(t *testing.T) {
	cfg := validConfig()
	cfg.Credential.RawSSID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when no credential source is set")
	}
}

func TestValidateRequiresPasswordForEncryptedSSID(t *testing.T) {
	cfg := validConfig()
	cfg.Credential.RawSSID = ""
	cfg.Credential.EncryptedSSIDPath = "/etc/poengine/ssid.json"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when encrypted_ssid_path is set without a password")
	}
}

func TestValidateRequiresAnEndpointSource(t *testing.T) {
	cfg := validConfig()
	cfg.Connector.Endpoints = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when no endpoint source is configured")
	}
}

func TestValidateRejectsInvertedAmountBounds(t *testing.T) {
	cfg := validConfig()
	cfg.MinAmount = 100
	cfg.MaxAmount = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when max_amount <= min_amount")
	}
}

func TestValidateRequiresRedisForDedup(t *testing.T) {
	cfg := validConfig()
	cfg.Dedup.Enabled = true
	cfg.Redis.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when dedup is enabled without a redis addr")
	}
}

func TestValidateRequiresBucketForCapture(t *testing.T) {
	cfg := validConfig()
	cfg.Capture.Enabled = true
	cfg.Capture.SampleRate = 0.1
	cfg.Capture.S3.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when capture is enabled without an s3 bucket")
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Password = "hunter2"
	cfg.Notify.TelegramToken = "bot-token"

	red := Redacted(&cfg)
	if red.Redis.Password != redacted {
		t.Errorf("expected redis password to be redacted, got %q", red.Redis.Password)
	}
	if red.Notify.TelegramToken != redacted {
		t.Errorf("expected telegram token to be redacted, got %q", red.Notify.TelegramToken)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Error("Redacted must not mutate the original config")
	}
}
