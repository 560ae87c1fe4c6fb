// Package mercadopago: клиент PIX-шлюза и проверка подписи его уведомлений.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/version"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 15 * time.Second
	// формат date_of_expiration, который принимает API
	expirationLayout = "2006-01-02T15:04:05.000-07:00"
)

// ErrPaymentNotFound возвращается, если шлюз не знает платёж.
var ErrPaymentNotFound = fmt.Errorf("pix payment: %w", domain.ErrNotFound)

// Config: параметры доступа к API.
type Config struct {
	BaseURL         string
	AccessToken     string
	WebhookSecret   string
	NotificationURL string
	Timeout         time.Duration
}

// Client реализует domain.PixGateway поверх REST API.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	accessToken     string
	notificationURL string
	verifier        *NotificationVerifier
	logger          *log.Entry
}

// NewClient создаёт клиент. Пустой BaseURL означает боевой API.
func NewClient(cfg Config, logger *log.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "mercadopago")
	}
	return &Client{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:     cfg.AccessToken,
		notificationURL: cfg.NotificationURL,
		verifier:        NewNotificationVerifier(cfg.WebhookSecret),
		logger:          logger,
	}
}

type payer struct {
	Email string `json:"email"`
}

type createPaymentRequest struct {
	TransactionAmount json.Number       `json:"transaction_amount"`
	Description       string            `json:"description,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id"`
	Payer             payer             `json:"payer"`
	ExternalReference string            `json:"external_reference,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	DateOfExpiration  string            `json:"date_of_expiration,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

type payment struct {
	ID                 flexibleID      `json:"id"`
	Status             string          `json:"status"`
	StatusDetail       string          `json:"status_detail"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	CurrencyID         string          `json:"currency_id"`
	ExternalReference  string          `json:"external_reference"`
	Metadata           map[string]any  `json:"metadata"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreatePixPayment создаёт PIX-платёж и возвращает QR-код.
func (c *Client) CreatePixPayment(ctx context.Context, params domain.PixPaymentParams) (domain.PixCharge, error) {
	if params.PayerEmail == "" {
		return domain.PixCharge{}, domain.ErrPayerEmailRequired
	}
	req := createPaymentRequest{
		TransactionAmount: json.Number(domain.FromMinor(params.AmountMinor).StringFixed(2)),
		Description:       params.Description,
		PaymentMethodID:   "pix",
		Payer:             payer{Email: params.PayerEmail},
		ExternalReference: params.ExternalReference,
		Metadata:          params.Metadata.Encode(),
		NotificationURL:   c.notificationURL,
	}
	if !params.ExpiresAt.IsZero() {
		req.DateOfExpiration = params.ExpiresAt.Format(expirationLayout)
	}

	var p payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", req, params.IdempotencyKey, &p); err != nil {
		return domain.PixCharge{}, err
	}
	td := p.PointOfInteraction.TransactionData
	return domain.PixCharge{
		ID:           string(p.ID),
		Status:       p.Status,
		QRCode:       td.QRCode,
		QRCodeBase64: td.QRCodeBase64,
		TicketURL:    td.TicketURL,
	}, nil
}

// GetPayment возвращает состояние платежа.
func (c *Client) GetPayment(ctx context.Context, id string) (domain.GatewayPayment, error) {
	if id == "" {
		return domain.GatewayPayment{}, domain.ErrPaymentIDRequired
	}
	var p payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, "", &p); err != nil {
		return domain.GatewayPayment{}, err
	}

	meta := domain.DecodeCheckoutMetadata(stringifyMetadata(p.Metadata))
	if meta.OrderID == "" {
		meta.OrderID = p.ExternalReference
	}
	return domain.GatewayPayment{
		ID:             string(p.ID),
		Status:         p.Status,
		AmountMinor:    domain.ToMinor(p.TransactionAmount),
		AmountReported: !p.TransactionAmount.IsZero(),
		Currency:       p.CurrencyID,
		Metadata:       meta,
	}, nil
}

// CancelPayment отменяет ещё не оплаченный платёж.
func (c *Client) CancelPayment(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrPaymentIDRequired
	}
	body := map[string]string{"status": "cancelled"}
	return c.do(ctx, http.MethodPut, "/v1/payments/"+url.PathEscape(id), body, "", nil)
}

// VerifyNotification проверяет подпись уведомления и возвращает id платежа.
func (c *Client) VerifyNotification(payload []byte, signatureHeader, requestID string) (string, error) {
	return c.verifier.VerifyNotification(payload, signatureHeader, requestID)
}

func (c *Client) do(ctx context.Context, method, path string, in any, idempotencyKey string, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal mercadopago request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("mercadopago new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("User-Agent", version.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.UpstreamError("mercadopago "+method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.UpstreamError("mercadopago read response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		c.logger.WithFields(log.Fields{
			"status": resp.StatusCode,
			"error":  apiErr.Error,
		}).Warn("mercadopago request failed")
		return domain.UpstreamError("mercadopago "+method+" "+path,
			fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Message))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.UpstreamError("mercadopago decode response", err)
	}
	return nil
}

// stringifyMetadata приводит значения metadata к строкам: шлюз может вернуть числа.
func stringifyMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case string:
			out[key] = v
		case nil:
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				out[key] = string(raw)
			}
		}
	}
	return out
}

var _ domain.PixGateway = (*Client)(nil)
