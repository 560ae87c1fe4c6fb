// Package stripe: клиент карточного шлюза (payment intents) и разбор его webhook.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

const defaultTimeout = 15 * time.Second

// ErrPaymentIntentNotFound возвращается, если шлюз не знает payment intent.
var ErrPaymentIntentNotFound = fmt.Errorf("payment intent: %w", domain.ErrNotFound)

// Config: параметры доступа к API.
type Config struct {
	// BaseURL пустой для боевого API.
	BaseURL          string
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Timeout          time.Duration
}

// Client реализует domain.CardGateway поверх stripe-go.
// Сетевые повторы SDK выключены: ими управляет gateway/resilient.
type Client struct {
	api     *client.API
	webhook *WebhookVerifier
	logger  *log.Entry
}

// NewClient создаёт клиент со своим backend, без глобального состояния SDK.
func NewClient(cfg Config, logger *log.Entry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "stripe")
	}
	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     logger,
		MaxNetworkRetries: stripeapi.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg)

	return &Client{
		api:     client.New(cfg.SecretKey, &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend}),
		webhook: NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
		logger:  logger,
	}
}

// CreatePaymentIntent создаёт payment intent с автоматическими способами оплаты.
func (c *Client) CreatePaymentIntent(ctx context.Context, params domain.CardIntentParams) (domain.CardIntent, error) {
	req := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(params.AmountMinor),
		Currency: stripeapi.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	req.Context = ctx
	if params.ReceiptEmail != "" {
		req.ReceiptEmail = stripeapi.String(params.ReceiptEmail)
	}
	if params.IdempotencyKey != "" {
		req.SetIdempotencyKey(params.IdempotencyKey)
	}
	for key, value := range params.Metadata.Encode() {
		req.AddMetadata(key, value)
	}

	pi, err := c.api.PaymentIntents.New(req)
	if err != nil {
		return domain.CardIntent{}, c.classify("create payment intent", err)
	}
	return domain.CardIntent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// GetPayment возвращает состояние payment intent.
func (c *Client) GetPayment(ctx context.Context, id string) (domain.GatewayPayment, error) {
	if id == "" {
		return domain.GatewayPayment{}, domain.ErrPaymentIDRequired
	}
	req := &stripeapi.PaymentIntentParams{}
	req.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, req)
	if err != nil {
		return domain.GatewayPayment{}, c.classify("get payment intent", err)
	}
	return toGatewayPayment(pi), nil
}

// CancelPayment отменяет payment intent.
func (c *Client) CancelPayment(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrPaymentIDRequired
	}
	req := &stripeapi.PaymentIntentCancelParams{}
	req.Context = ctx
	if _, err := c.api.PaymentIntents.Cancel(id, req); err != nil {
		return c.classify("cancel payment intent", err)
	}
	return nil
}

// ParseWebhook проверяет подпись и разбирает событие.
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (domain.PaymentUpdate, bool, error) {
	return c.webhook.ParseWebhook(payload, signatureHeader)
}

func toGatewayPayment(pi *stripeapi.PaymentIntent) domain.GatewayPayment {
	out := domain.GatewayPayment{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Currency: strings.ToUpper(string(pi.Currency)),
		Metadata: domain.DecodeCheckoutMetadata(pi.Metadata),
	}
	if pi.Status == stripeapi.PaymentIntentStatusSucceeded {
		out.AmountMinor = pi.Amount
		if pi.AmountReceived > 0 {
			out.AmountMinor = pi.AmountReceived
		}
		out.AmountReported = true
	}
	return out
}

// classify переводит ошибку SDK в класс доменной ошибки.
func (c *Client) classify(op string, err error) error {
	var apiErr *stripeapi.Error
	if !errors.As(err, &apiErr) {
		return domain.UpstreamError("stripe "+op, err)
	}
	if apiErr.HTTPStatusCode == http.StatusNotFound {
		return ErrPaymentIntentNotFound
	}
	c.logger.WithFields(log.Fields{
		"op":         op,
		"status":     apiErr.HTTPStatusCode,
		"error_type": apiErr.Type,
		"error_code": apiErr.Code,
	}).Warn("stripe request failed")
	return domain.UpstreamError("stripe "+op, fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Msg))
}

// IsNotFound сообщает, что шлюз не знает платёж.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentIntentNotFound)
}

var _ domain.CardGateway = (*Client)(nil)
