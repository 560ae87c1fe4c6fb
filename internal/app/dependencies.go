package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/mercadopago"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/resilient"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/sandbox"
	"github.com/vladislavdragonenkov/pdfstore/internal/gateway/stripe"
	"github.com/vladislavdragonenkov/pdfstore/internal/health"
	"github.com/vladislavdragonenkov/pdfstore/internal/httpapi"
	"github.com/vladislavdragonenkov/pdfstore/internal/mail"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/ratelimit"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/outbox"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/reconcile"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/objectstore"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/postgres"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/seed"
	"github.com/vladislavdragonenkov/pdfstore/internal/version"
)

type catalogStore interface {
	domain.CatalogRepository
	domain.CatalogWriter
}

// Dependencies содержит инфраструктуру приложения: хранилища, шлюзы, почту,
// публикацию событий и лимитер. Close освобождает ресурсы в обратном порядке.
type Dependencies struct {
	Catalog     catalogStore
	Orders      domain.OrderRepository
	Coupons     domain.CouponRepository
	Timeline    domain.TimelineRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository

	Card       domain.CardGateway
	Pix        domain.PixGateway
	CardHooks  reconcile.CardWebhookParser
	PixHooks   reconcile.PixNotificationVerifier
	Signer     domain.ObjectSigner
	FileServer httpapi.FileServer
	Mailer     domain.Mailer

	Publisher  domain.OutboxPublisher
	DeadLetter domain.OutboxPublisher
	Limiter    ratelimit.Limiter

	PaymentMetrics *metrics.PaymentMetrics
	HTTPMetrics    *metrics.HTTPMetrics
	Health         *health.Handler
	Logger         *log.Entry

	closers []func() error
}

// NewDependencies создаёт инфраструктуру по конфигурации. При ошибке уже
// открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{
		PaymentMetrics: metrics.NewPaymentMetrics(),
		HTTPMetrics:    metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		Health:         health.NewHandler(version.Version()),
		Logger:         logger,
	}
	defer func() {
		if err != nil {
			_ = deps.Close()
		}
	}()

	if err = deps.initStorage(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if cfg.Storage.SeedFile != "" {
		loader := seed.NewLoader(deps.Catalog, deps.Coupons, logger.WithField("component", "seed"))
		if _, err = loader.LoadFile(ctx, cfg.Storage.SeedFile); err != nil {
			return nil, fmt.Errorf("load seed file: %w", err)
		}
	}
	deps.initGateways(cfg.Gateway)
	if err = deps.initFiles(cfg.Files); err != nil {
		return nil, err
	}
	if err = deps.initMailer(cfg.SMTP); err != nil {
		return nil, err
	}
	if err = deps.initPublisher(cfg.Kafka); err != nil {
		return nil, err
	}
	deps.initLimiter(cfg.Redis, cfg.RateLimit)
	return deps, nil
}

// Close закрывает ресурсы в порядке, обратном открытию.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *Dependencies) initStorage(ctx context.Context, cfg StorageConfig) error {
	if cfg.Driver != StorageDriverPostgres {
		d.Catalog = memory.NewCatalogRepository()
		d.Orders = memory.NewOrderRepository()
		d.Coupons = memory.NewCouponRepository()
		d.Timeline = memory.NewTimelineRepository()
		d.Outbox = memory.NewOutboxRepository()
		d.Idempotency = memory.NewIdempotencyRepository()
		d.Logger.Info("using in-memory storage")
		return nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	d.onClose(store.Close)

	if cfg.AutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	d.Catalog = postgres.NewCatalogRepository(store)
	d.Orders = postgres.NewOrderRepository(store)
	d.Coupons = postgres.NewCouponRepository(store)
	d.Timeline = postgres.NewTimelineRepository(store)
	d.Outbox = postgres.NewOutboxRepository(store)
	d.Idempotency = postgres.NewIdempotencyRepository(store)
	d.Health.RegisterChecker("postgres", health.NewCritical("postgres", store.Ping))
	d.Logger.Info("using postgres storage")
	return nil
}

func (d *Dependencies) initGateways(cfg GatewayConfig) {
	if cfg.Mode == GatewayModeLive {
		card := stripe.NewClient(stripe.Config{
			BaseURL:          cfg.StripeBaseURL,
			SecretKey:        cfg.StripeSecretKey,
			WebhookSecret:    cfg.StripeWebhookSecret,
			WebhookTolerance: cfg.StripeTolerance,
			Timeout:          cfg.Timeout,
		}, d.Logger.WithField("component", "stripe"))
		pix := mercadopago.NewClient(mercadopago.Config{
			BaseURL:         cfg.MercadoPagoBaseURL,
			AccessToken:     cfg.MercadoPagoAccessToken,
			WebhookSecret:   cfg.MercadoPagoWebhookSecret,
			NotificationURL: cfg.MercadoPagoNotificationURL,
			Timeout:         cfg.Timeout,
		}, d.Logger.WithField("component", "mercadopago"))
		retry := resilient.RetryConfig{MaxAttempts: cfg.RetryAttempts, InitialDelay: cfg.RetryDelay}
		gatewayLog := d.Logger.WithField("component", "resilient-gateway")
		d.Card = resilient.NewCardGateway(card, retry, resilient.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset, gatewayLog), gatewayLog)
		d.Pix = resilient.NewPixGateway(pix, retry, resilient.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset, gatewayLog), gatewayLog)
		d.CardHooks, d.PixHooks = card, pix
		return
	}

	d.Card = sandbox.New(domain.ProviderStripe)
	d.Pix = sandbox.New(domain.ProviderMercadoPago)
	// подписи уведомлений проверяются и в sandbox, если задан секрет
	if cfg.StripeWebhookSecret != "" {
		d.CardHooks = stripe.NewWebhookVerifier(cfg.StripeWebhookSecret, cfg.StripeTolerance)
	}
	if cfg.MercadoPagoWebhookSecret != "" {
		d.PixHooks = mercadopago.NewNotificationVerifier(cfg.MercadoPagoWebhookSecret)
	}
	d.Logger.Warn("payment gateways run in sandbox mode")
}

func (d *Dependencies) initFiles(cfg FilesConfig) error {
	if cfg.Driver == FilesDriverS3 {
		signer, err := objectstore.NewS3Signer(objectstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		d.Signer = signer
		d.Health.RegisterChecker("object_storage", health.NewOptional("object_storage", signer.BucketExists))
		return nil
	}

	store, err := objectstore.NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL, cfg.SigningSecret)
	if err != nil {
		return err
	}
	d.Signer = store
	d.FileServer = store
	return nil
}

func (d *Dependencies) initMailer(cfg SMTPConfig) error {
	if cfg.Host == "" {
		d.Mailer = mail.NewLogMailer(d.Logger.WithField("component", "mailer"))
		return nil
	}
	mailer, err := mail.NewSMTPMailer(mail.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		From:        cfg.From,
		FromName:    cfg.FromName,
		ImplicitTLS: cfg.ImplicitTLS,
	}, d.Logger.WithField("component", "smtp-mailer"))
	if err != nil {
		return err
	}
	d.Mailer = mailer
	return nil
}

func (d *Dependencies) initLimiter(cfg RedisConfig, limits RateLimitConfig) {
	local := ratelimit.NewLocalLimiter(limits.PixLimit, limits.PixWindow)
	if cfg.Addr == "" {
		d.Limiter = local
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	d.onClose(client.Close)
	d.Health.RegisterChecker("redis", health.NewOptional("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	shared := ratelimit.NewRedisLimiter(client, "pdfstore:ratelimit:pix", limits.PixLimit, limits.PixWindow)
	d.Limiter = ratelimit.NewFallback(shared, local, d.Logger.WithField("component", "ratelimit"))
}

func (d *Dependencies) initPublisher(cfg KafkaConfig) error {
	producer, err := initKafkaProducer(cfg, d.Logger)
	if err != nil {
		return err
	}
	if producer == nil {
		d.Publisher = outbox.NewLogPublisher(d.Logger.WithField("component", "outbox-log"))
		return nil
	}
	d.onClose(func() error { return closeKafka(producer, d.Logger) })
	d.Publisher = kafkaPublisher(producer, cfg.Topic)
	d.DeadLetter = kafkaPublisher(producer, cfg.DLQTopic)
	return nil
}
