package app

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "jwt-secret"
	cfg.Files.SigningSecret = "files-secret"
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected HTTP addr :8080, got %s", cfg.HTTP.Addr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Errorf("expected storage driver %s, got %s", StorageDriverMemory, cfg.Storage.Driver)
	}
	if !cfg.Storage.AutoMigrate {
		t.Error("expected AutoMigrate to be true")
	}
	if cfg.Gateway.Mode != GatewayModeSandbox {
		t.Errorf("expected sandbox gateways, got %s", cfg.Gateway.Mode)
	}
	if cfg.Download.Window != 30*24*time.Hour {
		t.Errorf("expected 30 day download window, got %s", cfg.Download.Window)
	}
	if cfg.Download.MaxDownloads != 5 {
		t.Errorf("expected 5 downloads, got %d", cfg.Download.MaxDownloads)
	}
	if cfg.RateLimit.PixLimit <= 0 || cfg.RateLimit.PixWindow <= 0 {
		t.Error("expected positive pix rate limit")
	}
	if cfg.Checkout.Currency != "BRL" {
		t.Errorf("expected BRL, got %s", cfg.Checkout.Currency)
	}
	if cfg.Outbox.PollInterval <= 0 || cfg.Outbox.BatchSize <= 0 || cfg.Outbox.MaxAttempts <= 0 {
		t.Error("expected positive outbox settings")
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("expected idempotency ttl 24h, got %s", cfg.Idempotency.TTL)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*Config) {}},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = StorageDriverPostgres },
			wantErr: "POSTGRES_DSN",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Driver = "mongo" },
			wantErr: "unknown storage driver",
		},
		{
			name:    "live without keys",
			mutate:  func(c *Config) { c.Gateway.Mode = GatewayModeLive },
			wantErr: "stripe secret key",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Files.Driver = FilesDriverS3 },
			wantErr: "endpoint and bucket",
		},
		{
			name:    "smtp without sender",
			mutate:  func(c *Config) { c.SMTP.Host = "smtp.example.com" },
			wantErr: "sender address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PDFSTORE_HTTP_ADDR", ":18080")
	t.Setenv("PDFSTORE_AUTH_JWT_SECRET", "secret")
	t.Setenv("PDFSTORE_FILES_SIGNING_SECRET", "files")
	t.Setenv("PDFSTORE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PDFSTORE_RATELIMIT_PIX_WINDOW", "30s")

	cfg, err := LoadConfig(t.TempDir() + "/missing.env")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":18080" {
		t.Errorf("expected :18080, got %s", cfg.HTTP.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.RateLimit.PixWindow != 30*time.Second {
		t.Errorf("expected 30s window, got %s", cfg.RateLimit.PixWindow)
	}
}

func TestLoadConfig_InvalidFails(t *testing.T) {
	t.Setenv("PDFSTORE_AUTH_JWT_SECRET", "")
	t.Setenv("PDFSTORE_FILES_SIGNING_SECRET", "files")

	if _, err := LoadConfig(t.TempDir() + "/missing.env"); err == nil {
		t.Fatal("expected validation error")
	}
}
