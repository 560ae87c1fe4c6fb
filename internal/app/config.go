package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "PDFSTORE_"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	GatewayModeSandbox = "sandbox"
	GatewayModeLive    = "live"

	FilesDriverLocal = "local"
	FilesDriverS3    = "s3"
)

// Config описывает настройки запуска. Все переменные окружения имеют префикс PDFSTORE_.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	HTTP        HTTPConfig        `envPrefix:"HTTP_"`
	Log         LogConfig         `envPrefix:"LOG_"`
	Storage     StorageConfig     `envPrefix:"STORAGE_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	RateLimit   RateLimitConfig   `envPrefix:"RATELIMIT_"`
	Auth        AuthConfig        `envPrefix:"AUTH_"`
	Gateway     GatewayConfig     `envPrefix:"GATEWAY_"`
	Checkout    CheckoutConfig    `envPrefix:"CHECKOUT_"`
	Download    DownloadConfig    `envPrefix:"DOWNLOAD_"`
	Files       FilesConfig       `envPrefix:"FILES_"`
	SMTP        SMTPConfig        `envPrefix:"SMTP_"`
	Kafka       KafkaConfig       `envPrefix:"KAFKA_"`
	Outbox      OutboxConfig      `envPrefix:"OUTBOX_"`
	Idempotency IdempotencyConfig `envPrefix:"IDEMPOTENCY_"`
}

type HTTPConfig struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	AllowOrigins []string      `env:"ALLOW_ORIGINS" envSeparator:","`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
	// File: путь к файлу с ротацией; пустой, только stdout.
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"28"`
}

type StorageConfig struct {
	Driver      string `env:"DRIVER" envDefault:"memory"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	// SeedFile: YAML с каталогом и купонами, загружается при старте.
	SeedFile string `env:"SEED_FILE"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type RateLimitConfig struct {
	PixLimit  int           `env:"PIX_LIMIT" envDefault:"5"`
	PixWindow time.Duration `env:"PIX_WINDOW" envDefault:"1m"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"pdfstore"`
}

type GatewayConfig struct {
	Mode string `env:"MODE" envDefault:"sandbox"`

	StripeBaseURL       string        `env:"STRIPE_BASE_URL"`
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeTolerance     time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`

	MercadoPagoBaseURL         string `env:"MERCADOPAGO_BASE_URL"`
	MercadoPagoAccessToken     string `env:"MERCADOPAGO_ACCESS_TOKEN"`
	MercadoPagoWebhookSecret   string `env:"MERCADOPAGO_WEBHOOK_SECRET"`
	MercadoPagoNotificationURL string `env:"MERCADOPAGO_NOTIFICATION_URL"`

	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	// Повторы и circuit breaker для боевых шлюзов.
	RetryAttempts   int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay      time.Duration `env:"RETRY_DELAY" envDefault:"200ms"`
	BreakerFailures int           `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerReset    time.Duration `env:"BREAKER_RESET" envDefault:"30s"`
}

type CheckoutConfig struct {
	Currency      string        `env:"CURRENCY" envDefault:"BRL"`
	PixExpiration time.Duration `env:"PIX_EXPIRATION" envDefault:"30m"`
	StoreName     string        `env:"STORE_NAME" envDefault:"PDF Store"`
}

type DownloadConfig struct {
	Window       time.Duration `env:"WINDOW" envDefault:"720h"`
	LinkTTL      time.Duration `env:"LINK_TTL" envDefault:"5m"`
	EmailLinkTTL time.Duration `env:"EMAIL_LINK_TTL" envDefault:"1h"`
	MaxDownloads int           `env:"MAX_DOWNLOADS" envDefault:"5"`
}

type FilesConfig struct {
	Driver string `env:"DRIVER" envDefault:"local"`

	LocalDir      string `env:"LOCAL_DIR" envDefault:"./data/files"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080/files"`
	SigningSecret string `env:"SIGNING_SECRET"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3UseSSL    bool   `env:"S3_USE_SSL" envDefault:"true"`
}

// SMTPConfig: пустой Host включает запись писем в лог.
type SMTPConfig struct {
	Host        string `env:"HOST"`
	Port        int    `env:"PORT" envDefault:"587"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	From        string `env:"FROM"`
	FromName    string `env:"FROM_NAME" envDefault:"PDF Store"`
	ImplicitTLS bool   `env:"IMPLICIT_TLS"`
}

// KafkaConfig: пустой список брокеров включает публикацию outbox в лог.
type KafkaConfig struct {
	Brokers  []string `env:"BROKERS" envSeparator:","`
	ClientID string   `env:"CLIENT_ID" envDefault:"pdfstore"`
	Topic    string   `env:"TOPIC" envDefault:"pdfstore.order.events"`
	DLQTopic string   `env:"DLQ_TOPIC" envDefault:"pdfstore.order.events.dlq"`
}

type OutboxConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"100"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"10"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"500ms"`
}

type IdempotencyConfig struct {
	TTL              time.Duration `env:"TTL" envDefault:"24h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"10m"`
	CleanupBatchSize int           `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`
}

// DefaultConfig возвращает настройки по умолчанию без чтения окружения.
func DefaultConfig() Config {
	var cfg Config
	// значения берутся из тегов envDefault; пустое окружение не даёт ошибок
	_ = env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix, Environment: map[string]string{}})
	return cfg
}

// LoadConfig читает .env (если есть) и переменные окружения.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires PDFSTORE_STORAGE_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Gateway.Mode {
	case GatewayModeSandbox:
	case GatewayModeLive:
		if c.Gateway.StripeSecretKey == "" || c.Gateway.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("live mode requires stripe secret key and webhook secret"))
		}
		if c.Gateway.MercadoPagoAccessToken == "" || c.Gateway.MercadoPagoWebhookSecret == "" {
			errs = append(errs, errors.New("live mode requires mercadopago access token and webhook secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gateway mode %q", c.Gateway.Mode))
	}

	switch c.Files.Driver {
	case FilesDriverLocal:
		if c.Files.SigningSecret == "" {
			errs = append(errs, errors.New("local file store requires PDFSTORE_FILES_SIGNING_SECRET"))
		}
	case FilesDriverS3:
		if c.Files.S3Endpoint == "" || c.Files.S3Bucket == "" {
			errs = append(errs, errors.New("s3 file store requires endpoint and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown files driver %q", c.Files.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("PDFSTORE_AUTH_JWT_SECRET is required"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp requires a sender address"))
	}
	if c.RateLimit.PixLimit <= 0 || c.RateLimit.PixWindow <= 0 {
		errs = append(errs, errors.New("pix rate limit must be positive"))
	}
	if c.Download.Window <= 0 || c.Download.LinkTTL <= 0 {
		errs = append(errs, errors.New("download window and link ttl must be positive"))
	}

	return errors.Join(errs...)
}
