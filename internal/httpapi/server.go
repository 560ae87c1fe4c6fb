package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/ratelimit"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/idempotency"
)

// Config: параметры HTTP-сервера.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowOrigins: разрешённые источники CORS; пустой список отключает CORS.
	AllowOrigins []string
}

// Dependencies: сервисы, которые обслуживает API.
// Limiter, Guard, Files и Metrics необязательны.
type Dependencies struct {
	Checkout   CheckoutService
	Coupons    CouponService
	Reconciler Reconciler
	Orders     OrderService
	Downloads  LinkIssuer
	Files      FileServer
	Auth       *Authenticator
	Limiter    ratelimit.Limiter
	Guard      *idempotency.Guard
	Metrics    *metrics.HTTPMetrics
}

// Server: HTTP API магазина.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	logger *log.Entry
}

// NewServer собирает echo с маршрутами и middleware.
func NewServer(deps Dependencies, cfg Config, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger, deps.Metrics))
	if len(cfg.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowOrigins}))
	}
	if deps.Auth != nil {
		e.Use(deps.Auth.optionalSession())
	}

	s := &Server{echo: e, cfg: cfg, logger: logger}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	h := &handlers{
		checkout:  deps.Checkout,
		coupons:   deps.Coupons,
		reconcile: deps.Reconciler,
		orders:    deps.Orders,
		downloads: deps.Downloads,
		files:     deps.Files,
	}

	var checkoutMW []echo.MiddlewareFunc
	if deps.Guard != nil {
		checkoutMW = append(checkoutMW, idempotent(deps.Guard))
	}
	pixMW := checkoutMW
	if deps.Limiter != nil {
		pixMW = append([]echo.MiddlewareFunc{rateLimit(deps.Limiter, s.logger)}, checkoutMW...)
	}

	e := s.echo
	e.POST("/payment-intent", h.createPaymentIntent, checkoutMW...)
	e.POST("/pix", h.createPix, pixMW...)
	e.POST("/payment-webhook", h.cardWebhook)
	e.POST("/payment-webhook/pix", h.pixWebhook)
	e.GET("/payment-status", h.paymentStatus)
	e.POST("/order/cancel", h.cancelOrder)
	e.POST("/coupon/validate", h.validateCoupon)
	e.POST("/download/generate-link", h.generateDownloadLink, requireSession)

	admin := e.Group("/admin", requireAdmin)
	admin.GET("/coupons", h.listCoupons)
	admin.POST("/coupons", h.createCoupon)
	admin.GET("/coupons/:code", h.getCoupon)
	admin.PATCH("/coupons/:code", h.patchCoupon)

	if deps.Files != nil {
		e.GET("/files/*", h.serveFile)
	}
}

// Handler возвращает http.Handler для тестов и встраивания.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start слушает адрес до Shutdown. Штатная остановка не считается ошибкой.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.logger.WithField("addr", s.cfg.Addr).Info("http server listening")
	if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown дожидается завершения активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
