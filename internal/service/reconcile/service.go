// Package reconcile сверяет уведомления платёжных шлюзов с заказами.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/lifecycle"
)

// Результаты обработки уведомления для метрик.
const (
	resultApplied          = "applied"
	resultNoop             = "noop"
	resultIgnored          = "ignored"
	resultInvalidSignature = "invalid_signature"
	resultMismatch         = "amount_mismatch"
	resultError            = "error"
)

// CardWebhookParser проверяет подпись webhook карточного шлюза и разбирает событие.
// relevant == false для событий, которые не влияют на заказы.
type CardWebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (update domain.PaymentUpdate, relevant bool, err error)
}

// PixNotificationVerifier проверяет подпись уведомления PIX-шлюза и возвращает id платежа.
type PixNotificationVerifier interface {
	VerifyNotification(payload []byte, signatureHeader, requestID string) (paymentID string, err error)
}

// OrderBuilder собирает заказ из метаданных платежа по ценам каталога.
type OrderBuilder interface {
	BuildOrder(ctx context.Context, meta domain.CheckoutMetadata, provider domain.PaymentProvider) (domain.Order, error)
	RecordRecovered(ctx context.Context, order domain.Order)
}

// Notifier отправляет подтверждение оплаты.
type Notifier interface {
	OrderPaid(ctx context.Context, order domain.Order) error
}

// Result описывает итог обработки уведомления.
type Result struct {
	OrderID string
	Status  domain.OrderStatus
	// Applied: этот вызов сменил статус заказа.
	Applied bool
	// Ignored: уведомление признано нерелевантным и подтверждено без изменений.
	Ignored bool
}

// StatusResult: ответ на опрос статуса платежа.
type StatusResult struct {
	OrderID       string
	Status        domain.OrderStatus
	PaymentStatus string
}

// Service применяет обновления платежей к заказам.
type Service struct {
	orders   domain.OrderRepository
	coupons  domain.CouponRepository
	builder  OrderBuilder
	recorder *lifecycle.Recorder
	notifier Notifier
	lookups  map[domain.PaymentProvider]domain.PaymentLookup
	card     CardWebhookParser
	pix      PixNotificationVerifier
	metrics  *metrics.PaymentMetrics
	logger   *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithCardWebhooks подключает разбор webhook карточного шлюза.
func WithCardWebhooks(parser CardWebhookParser) Option {
	return func(s *Service) { s.card = parser }
}

// WithPixNotifications подключает проверку уведомлений PIX-шлюза.
func WithPixNotifications(verifier PixNotificationVerifier) Option {
	return func(s *Service) { s.pix = verifier }
}

// WithLookup регистрирует клиент шлюза для опроса статуса.
func WithLookup(provider domain.PaymentProvider, lookup domain.PaymentLookup) Option {
	return func(s *Service) {
		if lookup != nil {
			s.lookups[provider] = lookup
		}
	}
}

// WithNotifier задаёт отправку подтверждений.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт сервис сверки.
func NewService(
	orders domain.OrderRepository,
	coupons domain.CouponRepository,
	builder OrderBuilder,
	recorder *lifecycle.Recorder,
	options ...Option,
) *Service {
	s := &Service{
		orders:   orders,
		coupons:  coupons,
		builder:  builder,
		recorder: recorder,
		lookups:  make(map[domain.PaymentProvider]domain.PaymentLookup),
		logger:   log.WithField("component", "reconcile"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// HandleCardWebhook проверяет подпись события карточного шлюза и применяет его.
func (s *Service) HandleCardWebhook(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	if s.card == nil {
		return Result{}, domain.ErrUnsupportedProvider
	}
	update, relevant, err := s.card.ParseWebhook(payload, signatureHeader)
	if err != nil {
		s.metrics.RecordWebhook(string(domain.ProviderStripe), resultInvalidSignature)
		s.logger.WithError(err).Warn("card webhook rejected")
		return Result{}, err
	}
	if !relevant {
		s.metrics.RecordWebhook(string(domain.ProviderStripe), resultIgnored)
		return Result{Ignored: true}, nil
	}
	return s.Reconcile(ctx, update)
}

// HandlePixNotification проверяет подпись уведомления, запрашивает платёж у шлюза
// и применяет его состояние.
func (s *Service) HandlePixNotification(ctx context.Context, payload []byte, signatureHeader, requestID string) (Result, error) {
	if s.pix == nil {
		return Result{}, domain.ErrUnsupportedProvider
	}
	paymentID, err := s.pix.VerifyNotification(payload, signatureHeader, requestID)
	if err != nil {
		s.metrics.RecordWebhook(string(domain.ProviderMercadoPago), resultInvalidSignature)
		s.logger.WithError(err).Warn("pix notification rejected")
		return Result{}, err
	}
	if paymentID == "" {
		s.metrics.RecordWebhook(string(domain.ProviderMercadoPago), resultIgnored)
		return Result{Ignored: true}, nil
	}

	payment, err := s.fetch(ctx, domain.ProviderMercadoPago, paymentID)
	if err != nil {
		return Result{}, err
	}
	return s.Reconcile(ctx, updateFromGateway(domain.ProviderMercadoPago, payment))
}

// CheckStatus опрашивает шлюз по id платежа, применяет ответ тем же путём,
// что и webhook, и возвращает актуальный статус заказа.
func (s *Service) CheckStatus(ctx context.Context, externalID string) (StatusResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return StatusResult{}, domain.ErrPaymentIDRequired
	}

	order, err := s.orders.GetByExternalID(ctx, externalID)
	if err != nil {
		return StatusResult{}, err
	}

	if order.Status == domain.OrderStatusPending {
		payment, err := s.fetch(ctx, order.Provider, externalID)
		if err != nil {
			return StatusResult{}, err
		}
		if _, err := s.Reconcile(ctx, updateFromGateway(order.Provider, payment)); err != nil {
			return StatusResult{}, err
		}
		if order, err = s.orders.Get(ctx, order.ID); err != nil {
			return StatusResult{}, err
		}
	}

	return StatusResult{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

// Reconcile применяет нормализованное обновление платежа к заказу.
// Повтор того же обновления ничего не меняет; побочные эффекты оплаты
// выполняет только вызов, который действительно перевёл заказ в completed.
func (s *Service) Reconcile(ctx context.Context, update domain.PaymentUpdate) (Result, error) {
	if update.ExternalID == "" {
		return Result{}, domain.ErrPaymentIDRequired
	}
	provider := string(update.Provider)
	target := domain.MapPaymentStatus(update.Provider, update.ProviderStatus)

	logger := s.logger.WithFields(log.Fields{
		"provider":        provider,
		"external_id":     update.ExternalID,
		"provider_status": update.ProviderStatus,
		"event_id":        update.EventID,
	})

	order, found, err := s.locate(ctx, update)
	if err != nil {
		s.metrics.RecordWebhook(provider, resultError)
		return Result{}, err
	}
	if !found {
		order, found, err = s.recoverOrder(ctx, update)
		if err != nil {
			s.metrics.RecordWebhook(provider, resultError)
			return Result{}, err
		}
		if !found {
			logger.Warn("payment update without matching order or metadata, acknowledging")
			s.metrics.RecordWebhook(provider, resultIgnored)
			return Result{Ignored: true}, nil
		}
	}
	logger = logger.WithField("order_id", order.ID)

	if order.Status == domain.OrderStatusPending && target == domain.OrderStatusCompleted && update.AmountReported &&
		!domain.WithinTolerance(update.AmountMinor, order.TotalMinor) {
		s.metrics.RecordIntegrityMismatch()
		s.metrics.RecordWebhook(provider, resultMismatch)
		reason := fmt.Sprintf("reported %d, expected %d", update.AmountMinor, order.TotalMinor)
		s.recorder.Timeline(ctx, order.ID, domain.TimelineIntegrityMismatch, reason)
		logger.WithFields(log.Fields{
			"amount_minor":   update.AmountMinor,
			"expected_minor": order.TotalMinor,
		}).Error("payment amount does not match order total")
		return Result{OrderID: order.ID, Status: order.Status}, fmt.Errorf("%w: %s", domain.ErrPaymentAmountMismatch, reason)
	}

	updated, from, applied, err := s.recorder.Transition(ctx, order.ID, target, func(o *domain.Order) {
		if o.ExternalPaymentID == "" {
			o.ExternalPaymentID = update.ExternalID
		}
		if o.ExternalPaymentID == update.ExternalID {
			o.PaymentStatus = update.ProviderStatus
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.WithFields(log.Fields{
				"from": from,
				"to":   target,
			}).Warn("transition not allowed, acknowledging")
			s.metrics.RecordWebhook(provider, resultIgnored)
			return Result{OrderID: order.ID, Status: from, Ignored: true}, nil
		}
		s.metrics.RecordWebhook(provider, resultError)
		return Result{}, fmt.Errorf("apply payment update: %w", err)
	}

	if !applied {
		// погашение купона могло не пройти при первой доставке; повтор безопасен
		if updated.Status == domain.OrderStatusCompleted {
			if err := s.redeemCoupon(ctx, updated); err != nil {
				s.metrics.RecordWebhook(provider, resultError)
				return Result{}, err
			}
		}
		s.metrics.RecordWebhook(provider, resultNoop)
		return Result{OrderID: updated.ID, Status: updated.Status}, nil
	}

	s.metrics.RecordWebhook(provider, resultApplied)
	logger.WithFields(log.Fields{
		"from": from,
		"to":   updated.Status,
	}).Info("order status changed")

	if updated.Status == domain.OrderStatusCompleted {
		redeemErr := s.redeemCoupon(ctx, updated)
		s.notify(ctx, updated)
		if redeemErr != nil {
			return Result{OrderID: updated.ID, Status: updated.Status, Applied: true}, redeemErr
		}
	}
	return Result{OrderID: updated.ID, Status: updated.Status, Applied: true}, nil
}

// locate ищет заказ по id платежа, затем по order_id из метаданных.
func (s *Service) locate(ctx context.Context, update domain.PaymentUpdate) (domain.Order, bool, error) {
	order, err := s.orders.GetByExternalID(ctx, update.ExternalID)
	if err == nil {
		return order, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, false, fmt.Errorf("find order by external id: %w", err)
	}

	if update.Metadata.OrderID == "" {
		return domain.Order{}, false, nil
	}
	order, err = s.orders.Get(ctx, update.Metadata.OrderID)
	if err == nil {
		return order, true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, false, nil
	}
	return domain.Order{}, false, fmt.Errorf("find order by metadata: %w", err)
}

// recoverOrder создаёт заказ из метаданных платежа. Если параллельный вызов
// успел создать его раньше, возвращается существующий.
func (s *Service) recoverOrder(ctx context.Context, update domain.PaymentUpdate) (domain.Order, bool, error) {
	if s.builder == nil || len(update.Metadata.Items) == 0 {
		return domain.Order{}, false, nil
	}

	order, err := s.builder.BuildOrder(ctx, update.Metadata, update.Provider)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("rebuild order from metadata: %w", err)
	}
	order.ExternalPaymentID = update.ExternalID
	order.PaymentStatus = ""

	if err := s.orders.Create(ctx, order); err != nil {
		if !errors.Is(err, domain.ErrOrderAlreadyExists) {
			return domain.Order{}, false, fmt.Errorf("create recovered order: %w", err)
		}
		existing, found, lookupErr := s.locate(ctx, update)
		if lookupErr != nil {
			return domain.Order{}, false, lookupErr
		}
		if !found {
			return domain.Order{}, false, fmt.Errorf("create recovered order: %w", err)
		}
		return existing, true, nil
	}

	s.builder.RecordRecovered(ctx, order)
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"external_id": order.ExternalPaymentID,
	}).Warn("order recovered from payment metadata")
	return order, true, nil
}

// redeemCoupon засчитывает использование купона оплаченного заказа.
// Redeem идемпотентен по заказу, поэтому вызов повторяется на каждой
// доставке события по completed-заказу. Ошибка возвращается, чтобы провайдер
// повторил уведомление.
func (s *Service) redeemCoupon(ctx context.Context, order domain.Order) error {
	if order.CouponCode == "" || s.coupons == nil {
		return nil
	}
	logger := s.logger.WithFields(log.Fields{"order_id": order.ID, "coupon": order.CouponCode})

	coupon, err := s.coupons.GetByCode(ctx, order.CouponCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.RecordCouponRedemption(resultIgnored)
			logger.Warn("coupon of paid order no longer exists")
			return nil
		}
		s.metrics.RecordCouponRedemption(resultError)
		logger.WithError(err).Error("coupon lookup failed on payment confirmation")
		return fmt.Errorf("get coupon %s: %w", order.CouponCode, err)
	}

	err = s.coupons.Redeem(ctx, domain.CouponRedemption{
		CouponID:      coupon.ID,
		CouponCode:    coupon.Code,
		UserID:        order.UserID,
		OrderID:       order.ID,
		DiscountMinor: order.DiscountMinor,
		CreatedAt:     s.recorder.Now(),
	})
	switch {
	case err == nil:
		s.metrics.RecordCouponRedemption("redeemed")
		s.recorder.Timeline(ctx, order.ID, domain.TimelineCouponRedeemed, coupon.Code)
		return nil
	case errors.Is(err, domain.ErrRedemptionExists):
		s.metrics.RecordCouponRedemption("duplicate")
		return nil
	default:
		s.metrics.RecordCouponRedemption(resultError)
		logger.WithError(err).Error("coupon redemption failed")
		return fmt.Errorf("redeem coupon %s: %w", coupon.Code, err)
	}
}

func (s *Service) notify(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderPaid(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("confirmation notification failed")
	}
}

func (s *Service) fetch(ctx context.Context, provider domain.PaymentProvider, id string) (domain.GatewayPayment, error) {
	lookup, ok := s.lookups[provider]
	if !ok {
		return domain.GatewayPayment{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, provider)
	}
	start := time.Now()
	payment, err := lookup.GetPayment(ctx, id)
	s.metrics.ObserveGatewayCall(string(provider), "get", time.Since(start), err)
	if err != nil {
		return domain.GatewayPayment{}, domain.UpstreamError("get payment", err)
	}
	return payment, nil
}

func updateFromGateway(provider domain.PaymentProvider, payment domain.GatewayPayment) domain.PaymentUpdate {
	return domain.PaymentUpdate{
		Provider:       provider,
		ExternalID:     payment.ID,
		ProviderStatus: payment.Status,
		AmountMinor:    payment.AmountMinor,
		AmountReported: payment.AmountReported,
		Currency:       payment.Currency,
		Metadata:       payment.Metadata,
		ReceivedAt:     time.Now().UTC(),
	}
}
