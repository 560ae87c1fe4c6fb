// Package sandbox: платёжный шлюз в памяти. Используется в тестах и в
// локальном окружении, когда ключи настоящих шлюзов не заданы.
package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// ErrPaymentNotFound возвращается для неизвестного id платежа.
var ErrPaymentNotFound = fmt.Errorf("sandbox payment: %w", domain.ErrNotFound)

// Gateway реализует и карточный, и PIX-шлюз. Повтор запроса с тем же
// ключом идемпотентности возвращает уже созданный платёж.
type Gateway struct {
	provider domain.PaymentProvider

	mu       sync.Mutex
	payments map[string]domain.GatewayPayment
	byKey    map[string]string

	// Настраиваемые ошибки.
	CreateErr error
	GetErr    error
	CancelErr error

	CreateCalls int
	CancelCalls int
}

// New создаёт sandbox-шлюз, отвечающий словарём статусов provider.
func New(provider domain.PaymentProvider) *Gateway {
	return &Gateway{
		provider: provider,
		payments: make(map[string]domain.GatewayPayment),
		byKey:    make(map[string]string),
	}
}

// Provider возвращает провайдера, которого изображает шлюз.
func (g *Gateway) Provider() domain.PaymentProvider {
	return g.provider
}

// CreatePaymentIntent создаёт intent в статусе requires_payment_method.
func (g *Gateway) CreatePaymentIntent(_ context.Context, params domain.CardIntentParams) (domain.CardIntent, error) {
	payment, err := g.create(params.IdempotencyKey, "pi_", "requires_payment_method", params.AmountMinor, params.Currency, params.Metadata)
	if err != nil {
		return domain.CardIntent{}, err
	}
	return domain.CardIntent{
		ID:           payment.ID,
		ClientSecret: payment.ID + "_secret_sandbox",
		Status:       payment.Status,
	}, nil
}

// CreatePixPayment создаёт PIX-платёж в статусе pending.
func (g *Gateway) CreatePixPayment(_ context.Context, params domain.PixPaymentParams) (domain.PixCharge, error) {
	meta := params.Metadata
	if meta.OrderID == "" {
		meta.OrderID = params.ExternalReference
	}
	payment, err := g.create(params.IdempotencyKey, "", "pending", params.AmountMinor, domain.DefaultCurrency, meta)
	if err != nil {
		return domain.PixCharge{}, err
	}
	code := fmt.Sprintf("00020126sandbox%s5204000053039865802BR", payment.ID)
	return domain.PixCharge{
		ID:           payment.ID,
		Status:       payment.Status,
		QRCode:       code,
		QRCodeBase64: base64.StdEncoding.EncodeToString([]byte(code)),
		TicketURL:    "https://sandbox.invalid/pix/" + payment.ID,
	}, nil
}

// GetPayment возвращает текущее состояние платежа.
func (g *Gateway) GetPayment(_ context.Context, id string) (domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.GetErr != nil {
		return domain.GatewayPayment{}, g.GetErr
	}
	payment, ok := g.payments[id]
	if !ok {
		return domain.GatewayPayment{}, ErrPaymentNotFound
	}
	return payment, nil
}

// CancelPayment отменяет неоплаченный платёж.
func (g *Gateway) CancelPayment(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CancelCalls++
	if g.CancelErr != nil {
		return g.CancelErr
	}
	payment, ok := g.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	if domain.MapPaymentStatus(g.provider, payment.Status) == domain.OrderStatusCompleted {
		return fmt.Errorf("sandbox: payment %s is already paid", id)
	}
	payment.Status = g.cancelledStatus()
	g.payments[id] = payment
	return nil
}

// SetStatus меняет статус платежа, как если бы покупатель оплатил или отказался.
func (g *Gateway) SetStatus(id, status string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	payment, ok := g.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	payment.Status = status
	g.payments[id] = payment
	return nil
}

// SetAmount меняет сумму, которую шлюз сообщает по платежу.
func (g *Gateway) SetAmount(id string, amountMinor int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	payment, ok := g.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	payment.AmountMinor = amountMinor
	g.payments[id] = payment
	return nil
}

// Put регистрирует платёж напрямую (платёж, созданный вне сервиса).
func (g *Gateway) Put(payment domain.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[payment.ID] = payment
}

func (g *Gateway) create(key, prefix, status string, amountMinor int64, currency string, meta domain.CheckoutMetadata) (domain.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateCalls++
	if g.CreateErr != nil {
		return domain.GatewayPayment{}, g.CreateErr
	}
	if key != "" {
		if id, ok := g.byKey[key]; ok {
			return g.payments[id], nil
		}
	}

	payment := domain.GatewayPayment{
		ID:             prefix + uuid.NewString(),
		Status:         status,
		AmountMinor:    amountMinor,
		AmountReported: true,
		Currency:       currency,
		Metadata:       meta,
	}
	g.payments[payment.ID] = payment
	if key != "" {
		g.byKey[key] = payment.ID
	}
	return payment, nil
}

func (g *Gateway) cancelledStatus() string {
	if g.provider == domain.ProviderStripe {
		return "canceled"
	}
	return "cancelled"
}

var (
	_ domain.CardGateway = (*Gateway)(nil)
	_ domain.PixGateway  = (*Gateway)(nil)
)
