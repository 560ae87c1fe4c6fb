package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/httpapi"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/coupon"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/download"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/notify"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/orders"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/outbox"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/reconcile"
)

// Services: прикладной слой поверх Dependencies.
type Services struct {
	Checkout  *checkout.Service
	Coupons   *coupon.Service
	Reconcile *reconcile.Service
	Orders    *orders.Service
	Downloads *download.Issuer
	Notifier  *notify.Notifier
	Guard     *idempotency.Guard
	Auth      *httpapi.Authenticator

	OutboxWorker *outbox.Worker
	Cleaner      *idempotency.Cleaner
}

// NewServices связывает сервисы с инфраструктурой.
func NewServices(cfg Config, deps *Dependencies) *Services {
	logger := deps.Logger
	m := deps.PaymentMetrics

	recorder := lifecycle.NewRecorder(deps.Orders, deps.Timeline, deps.Outbox, m, logger.WithField("component", "order-lifecycle"))
	coupons := coupon.NewService(deps.Coupons, coupon.WithLogger(logger.WithField("component", "coupon")))

	checkoutCfg := checkout.DefaultConfig()
	checkoutCfg.Currency = cfg.Checkout.Currency
	checkoutCfg.PixExpiration = cfg.Checkout.PixExpiration
	checkoutSvc := checkout.NewService(checkoutCfg, checkout.NewPricer(deps.Catalog), coupons,
		deps.Orders, deps.Card, deps.Pix, recorder, m, logger.WithField("component", "checkout"))

	issuer := download.NewIssuer(download.Config{
		Window:       cfg.Download.Window,
		LinkTTL:      cfg.Download.LinkTTL,
		EmailLinkTTL: cfg.Download.EmailLinkTTL,
		MaxDownloads: cfg.Download.MaxDownloads,
	}, deps.Orders, deps.Catalog, deps.Signer, m, logger.WithField("component", "download"))

	notifier := notify.NewNotifier(notify.Config{
		StoreName:  cfg.Checkout.StoreName,
		WindowDays: int(cfg.Download.Window.Hours() / 24),
	}, issuer, deps.Mailer, recorder, m, logger.WithField("component", "notify"))

	lookups := map[domain.PaymentProvider]domain.PaymentLookup{
		domain.ProviderStripe:      deps.Card,
		domain.ProviderMercadoPago: deps.Pix,
	}
	options := []reconcile.Option{
		reconcile.WithNotifier(notifier),
		reconcile.WithMetrics(m),
		reconcile.WithLogger(logger.WithField("component", "reconcile")),
	}
	for provider, lookup := range lookups {
		options = append(options, reconcile.WithLookup(provider, lookup))
	}
	if deps.CardHooks != nil {
		options = append(options, reconcile.WithCardWebhooks(deps.CardHooks))
	}
	if deps.PixHooks != nil {
		options = append(options, reconcile.WithPixNotifications(deps.PixHooks))
	}

	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryDelay),
	}
	if deps.DeadLetter != nil {
		workerOptions = append(workerOptions, outbox.WithDeadLetter(deps.DeadLetter))
	}

	return &Services{
		Checkout:  checkoutSvc,
		Coupons:   coupons,
		Reconcile: reconcile.NewService(deps.Orders, deps.Coupons, checkoutSvc, recorder, options...),
		Orders:    orders.NewService(deps.Orders, recorder, lookups, m, logger.WithField("component", "orders")),
		Downloads: issuer,
		Notifier:  notifier,
		Guard:     idempotency.NewGuard(deps.Idempotency, cfg.Idempotency.TTL, logger.WithField("component", "idempotency")),
		Auth:      httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),

		OutboxWorker: outbox.NewWorker(deps.Outbox, deps.Publisher, workerOptions...),
		Cleaner: idempotency.NewCleaner(deps.Idempotency,
			idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
			idempotency.WithBatchSize(cfg.Idempotency.CleanupBatchSize),
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		),
	}
}

// NewHTTPServer собирает HTTP API.
func NewHTTPServer(cfg Config, deps *Dependencies, svc *Services) *httpapi.Server {
	return httpapi.NewServer(httpapi.Dependencies{
		Checkout:   svc.Checkout,
		Coupons:    svc.Coupons,
		Reconciler: svc.Reconcile,
		Orders:     svc.Orders,
		Downloads:  svc.Downloads,
		Files:      deps.FileServer,
		Auth:       svc.Auth,
		Limiter:    deps.Limiter,
		Guard:      svc.Guard,
		Metrics:    deps.HTTPMetrics,
	}, httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		AllowOrigins: cfg.HTTP.AllowOrigins,
	}, log.WithField("component", "http"))
}
