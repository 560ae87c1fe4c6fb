package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/coupon"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/lifecycle"
)

// Источник создания заказа для метрик.
const (
	SourceCheckout = "checkout"
	SourceWebhook  = "webhook"
)

// Config задаёт параметры оформления заказа.
type Config struct {
	Currency string
	// Минимальные суммы, которые принимают шлюзы (в центавос).
	MinCardAmountMinor int64
	MinPixAmountMinor  int64
	// PixExpiration: срок жизни QR-кода PIX.
	PixExpiration      time.Duration
	DefaultDescription string
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		Currency:           domain.DefaultCurrency,
		MinCardAmountMinor: 50,
		MinPixAmountMinor:  100,
		PixExpiration:      30 * time.Minute,
		DefaultDescription: "Compra de PDF",
	}
}

// Request: корзина, отправленная клиентом.
type Request struct {
	Items       []domain.CartLine
	CouponCode  string
	Email       string
	UserID      string
	Description string
	// IdempotencyKey передаётся шлюзу; если пустой, используется id заказа.
	IdempotencyKey string
}

// Quote: корзина, пересчитанная по каталогу, с применённым купоном.
type Quote struct {
	Lines         []domain.PricedLine
	CouponCode    string
	SubtotalMinor int64
	DiscountMinor int64
	TotalMinor    int64
}

// CardPayment: результат создания карточного платежа.
type CardPayment struct {
	OrderID         string
	PaymentIntentID string
	ClientSecret    string
	TotalMinor      int64
}

// PixPayment: результат создания PIX-платежа.
type PixPayment struct {
	OrderID      string
	PaymentID    string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
	TotalMinor   int64
	ExpiresAt    time.Time
}

// Service создаёт заказы и платежи у шлюзов.
type Service struct {
	pricer   *Pricer
	coupons  *coupon.Service
	orders   domain.OrderRepository
	card     domain.CardGateway
	pix      domain.PixGateway
	recorder *lifecycle.Recorder
	metrics  *metrics.PaymentMetrics
	cfg      Config
	logger   *log.Entry
}

// NewService создаёт сервис оформления заказа. card и pix могут быть nil,
// тогда соответствующий способ оплаты недоступен.
func NewService(
	cfg Config,
	pricer *Pricer,
	coupons *coupon.Service,
	orders domain.OrderRepository,
	card domain.CardGateway,
	pix domain.PixGateway,
	recorder *lifecycle.Recorder,
	m *metrics.PaymentMetrics,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	return &Service{
		pricer:   pricer,
		coupons:  coupons,
		orders:   orders,
		card:     card,
		pix:      pix,
		recorder: recorder,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
}

// Quote пересчитывает корзину и применяет купон. Ничего не пишет.
func (s *Service) Quote(ctx context.Context, items []domain.CartLine, couponCode, userID string) (Quote, error) {
	lines, err := s.pricer.Price(ctx, items)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Lines: lines, SubtotalMinor: domain.SubtotalOf(lines)}
	if code := domain.NormalizeCouponCode(couponCode); code != "" {
		eval, err := s.coupons.Evaluate(ctx, code, lines, q.SubtotalMinor, userID)
		if err != nil {
			return Quote{}, err
		}
		q.CouponCode = eval.Coupon.Code
		q.DiscountMinor = eval.DiscountMinor
	}

	q.TotalMinor = q.SubtotalMinor - q.DiscountMinor
	if q.TotalMinor < 0 {
		q.DiscountMinor = q.SubtotalMinor
		q.TotalMinor = 0
	}
	return q, nil
}

// checkoutQuote считает корзину для оформления заказа. Неизвестный купон здесь
// ошибка запроса, а не отсутствующий ресурс.
func (s *Service) checkoutQuote(ctx context.Context, req Request) (Quote, error) {
	quote, err := s.Quote(ctx, req.Items, req.CouponCode, req.UserID)
	if errors.Is(err, domain.ErrCouponNotFound) {
		return Quote{}, domain.Validationf("coupon %q does not exist", domain.NormalizeCouponCode(req.CouponCode))
	}
	return quote, err
}

// CreateCardIntent сохраняет pending-заказ и создаёт payment intent.
func (s *Service) CreateCardIntent(ctx context.Context, req Request) (CardPayment, error) {
	if s.card == nil {
		return CardPayment{}, domain.ErrUnsupportedProvider
	}

	quote, err := s.checkoutQuote(ctx, req)
	if err != nil {
		return CardPayment{}, err
	}
	if quote.TotalMinor < s.cfg.MinCardAmountMinor {
		return CardPayment{}, fmt.Errorf("%w: minimum is %s", domain.ErrAmountBelowMinimum, domain.FromMinor(s.cfg.MinCardAmountMinor).StringFixed(2))
	}

	order, err := s.createPendingOrder(ctx, req, quote, domain.ProviderStripe, SourceCheckout)
	if err != nil {
		return CardPayment{}, err
	}

	meta := metadataFor(order, req.Items)
	start := time.Now()
	intent, err := s.card.CreatePaymentIntent(ctx, domain.CardIntentParams{
		AmountMinor:    order.TotalMinor,
		Currency:       order.Currency,
		ReceiptEmail:   order.Email,
		Metadata:       meta,
		IdempotencyKey: gatewayToken("pi", req.IdempotencyKey, order.ID),
	})
	s.metrics.ObserveGatewayCall(string(domain.ProviderStripe), "create", time.Since(start), err)
	if err != nil {
		s.failPendingOrder(ctx, order.ID, err)
		return CardPayment{}, domain.UpstreamError("create payment intent", err)
	}

	orderID, err := s.attachExternalID(ctx, order.ID, intent.ID, intent.Status)
	if err != nil {
		return CardPayment{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"external_id":  intent.ID,
		"amount_minor": order.TotalMinor,
	}).Info("payment intent created")

	return CardPayment{
		OrderID:         orderID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		TotalMinor:      order.TotalMinor,
	}, nil
}

// CreatePixPayment сохраняет pending-заказ и создаёт PIX-платёж с QR-кодом.
func (s *Service) CreatePixPayment(ctx context.Context, req Request) (PixPayment, error) {
	if s.pix == nil {
		return PixPayment{}, domain.ErrUnsupportedProvider
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return PixPayment{}, domain.ErrPayerEmailRequired
	}

	quote, err := s.checkoutQuote(ctx, req)
	if err != nil {
		return PixPayment{}, err
	}
	if quote.TotalMinor < s.cfg.MinPixAmountMinor {
		return PixPayment{}, fmt.Errorf("%w: minimum is %s", domain.ErrAmountBelowMinimum, domain.FromMinor(s.cfg.MinPixAmountMinor).StringFixed(2))
	}

	order, err := s.createPendingOrder(ctx, req, quote, domain.ProviderMercadoPago, SourceCheckout)
	if err != nil {
		return PixPayment{}, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = s.cfg.DefaultDescription
	}
	expiresAt := s.recorder.Now().Add(s.cfg.PixExpiration)

	start := time.Now()
	charge, err := s.pix.CreatePixPayment(ctx, domain.PixPaymentParams{
		AmountMinor:       order.TotalMinor,
		Description:       description,
		PayerEmail:        order.Email,
		ExternalReference: order.ID,
		Metadata:          metadataFor(order, req.Items),
		IdempotencyKey:    gatewayToken("pix", req.IdempotencyKey, order.ID),
		ExpiresAt:         expiresAt,
	})
	s.metrics.ObserveGatewayCall(string(domain.ProviderMercadoPago), "create", time.Since(start), err)
	if err != nil {
		s.failPendingOrder(ctx, order.ID, err)
		return PixPayment{}, domain.UpstreamError("create pix payment", err)
	}

	orderID, err := s.attachExternalID(ctx, order.ID, charge.ID, charge.Status)
	if err != nil {
		return PixPayment{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"external_id":  charge.ID,
		"amount_minor": order.TotalMinor,
	}).Info("pix payment created")

	return PixPayment{
		OrderID:      orderID,
		PaymentID:    charge.ID,
		QRCode:       charge.QRCode,
		QRCodeBase64: charge.QRCodeBase64,
		TicketURL:    charge.TicketURL,
		TotalMinor:   order.TotalMinor,
		ExpiresAt:    expiresAt,
	}, nil
}

// BuildOrder собирает pending-заказ из метаданных платежа (уведомление пришло
// раньше, чем заказ был сохранён). Цены берутся из каталога. Если купон к этому
// моменту уже не проходит проверку, заказ собирается без скидки и дальше решает
// проверка суммы.
func (s *Service) BuildOrder(ctx context.Context, meta domain.CheckoutMetadata, provider domain.PaymentProvider) (domain.Order, error) {
	quote, err := s.Quote(ctx, meta.Items, meta.CouponCode, meta.UserID)
	if err != nil && meta.CouponCode != "" && errors.Is(err, domain.ErrValidation) {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": meta.OrderID,
			"coupon":   meta.CouponCode,
		}).Warn("coupon rejected while rebuilding order, building without discount")
		quote, err = s.Quote(ctx, meta.Items, "", meta.UserID)
	}
	if err != nil {
		return domain.Order{}, err
	}

	orderID := meta.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	return s.newOrder(orderID, Request{Email: meta.Email, UserID: meta.UserID}, quote, provider), nil
}

// RecordRecovered считает заказ, восстановленный из уведомления.
func (s *Service) RecordRecovered(ctx context.Context, order domain.Order) {
	s.metrics.RecordOrderCreated(string(order.Provider), SourceWebhook)
	s.recorder.Timeline(ctx, order.ID, domain.TimelineOrderRecovered, "external id "+order.ExternalPaymentID)
}

func (s *Service) createPendingOrder(ctx context.Context, req Request, quote Quote, provider domain.PaymentProvider, source string) (domain.Order, error) {
	order := s.newOrder(uuid.NewString(), req, quote, provider)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated(string(provider), source)
	s.recorder.Timeline(ctx, order.ID, domain.TimelineOrderCreated, "")
	s.recorder.Emit(ctx, order, lifecycle.EventOrderCreated, map[string]any{
		"status":         string(order.Status),
		"discount_minor": order.DiscountMinor,
		"coupon_code":    order.CouponCode,
	})
	return order, nil
}

func (s *Service) newOrder(id string, req Request, quote Quote, provider domain.PaymentProvider) domain.Order {
	now := s.recorder.Now()
	order := domain.Order{
		ID:            id,
		UserID:        req.UserID,
		Email:         strings.TrimSpace(req.Email),
		Currency:      s.cfg.Currency,
		SubtotalMinor: quote.SubtotalMinor,
		DiscountMinor: quote.DiscountMinor,
		TotalMinor:    quote.TotalMinor,
		Status:        domain.OrderStatusPending,
		Provider:      provider,
		CouponCode:    quote.CouponCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Items = make([]domain.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        id,
			ProductID:      line.ProductID,
			VariationID:    line.VariationID,
			Name:           line.Name,
			UnitPriceMinor: line.UnitPriceMinor,
			Quantity:       line.Quantity,
			TotalMinor:     line.TotalMinor,
			CreatedAt:      now,
		})
	}
	return order
}

// attachExternalID записывает id платежа в заказ. Если тот же платёж уже
// привязан к другому заказу (повтор клиента с тем же ключом идемпотентности),
// новый заказ отменяется и возвращается id существующего.
func (s *Service) attachExternalID(ctx context.Context, orderID, externalID, providerStatus string) (string, error) {
	_, _, err := s.recorder.Update(ctx, orderID, func(o *domain.Order) (bool, error) {
		if o.ExternalPaymentID == externalID {
			return false, nil
		}
		o.ExternalPaymentID = externalID
		if o.Status == domain.OrderStatusPending && o.PaymentStatus == "" {
			o.PaymentStatus = providerStatus
		}
		o.UpdatedAt = s.recorder.Now()
		return true, nil
	})
	if err == nil {
		s.recorder.Timeline(ctx, orderID, domain.TimelinePaymentRequested, "external id "+externalID)
		return orderID, nil
	}
	if !errors.Is(err, domain.ErrOrderAlreadyExists) {
		return "", fmt.Errorf("attach external payment id: %w", err)
	}

	existing, lookupErr := s.orders.GetByExternalID(ctx, externalID)
	if lookupErr != nil {
		return "", fmt.Errorf("attach external payment id: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"existing_id": existing.ID,
		"external_id": externalID,
	}).Warn("gateway returned a payment already bound to another order, dropping duplicate")
	if _, _, _, cancelErr := s.recorder.Transition(ctx, orderID, domain.OrderStatusCancelled, nil); cancelErr != nil {
		s.logger.WithError(cancelErr).WithField("order_id", orderID).Warn("failed to cancel duplicate order")
	}
	return existing.ID, nil
}

func (s *Service) failPendingOrder(ctx context.Context, orderID string, cause error) {
	s.logger.WithError(cause).WithField("order_id", orderID).Warn("gateway rejected payment request, cancelling order")
	s.recorder.Timeline(ctx, orderID, domain.TimelinePaymentRequestFailed, cause.Error())
	if _, _, _, err := s.recorder.Transition(ctx, orderID, domain.OrderStatusCancelled, nil); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("failed to cancel order after gateway error")
	}
}

func metadataFor(order domain.Order, items []domain.CartLine) domain.CheckoutMetadata {
	return domain.CheckoutMetadata{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Email:      order.Email,
		CouponCode: order.CouponCode,
		Items:      items,
	}
}

func gatewayToken(prefix, clientKey, orderID string) string {
	if key := strings.TrimSpace(clientKey); key != "" {
		return prefix + ":" + key
	}
	return prefix + ":" + orderID
}
