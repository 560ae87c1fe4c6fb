package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// События, влияющие на заказы.
const (
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentProcessing = "payment_intent.processing"
	EventPaymentCanceled   = "payment_intent.canceled"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventChargeRefunded    = "charge.refunded"
)

// WebhookVerifier проверяет заголовок Stripe-Signature и разбирает событие.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier создаёт верификатор. tolerance <= 0 означает допуск SDK (5 минут).
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &WebhookVerifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// ParseWebhook проверяет подпись и переводит событие в PaymentUpdate.
// relevant == false для событий, не влияющих на заказы.
func (v *WebhookVerifier) ParseWebhook(payload []byte, signatureHeader string) (domain.PaymentUpdate, bool, error) {
	if err := v.Verify(payload, signatureHeader); err != nil {
		return domain.PaymentUpdate{}, false, err
	}

	// версия API события не сверяется с версией SDK: читаются только стабильные поля
	var ev stripeapi.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.PaymentUpdate{}, false, domain.Validationf("malformed event payload: %v", err)
	}
	if ev.Data == nil {
		return domain.PaymentUpdate{}, false, domain.Validationf("event %s has no data", ev.ID)
	}

	update := domain.PaymentUpdate{
		Provider:   domain.ProviderStripe,
		EventID:    ev.ID,
		ReceivedAt: v.now().UTC(),
	}

	switch string(ev.Type) {
	case EventPaymentSucceeded, EventPaymentProcessing, EventPaymentCanceled, EventPaymentFailed:
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return domain.PaymentUpdate{}, false, domain.Validationf("malformed payment intent: %v", err)
		}
		gp := toGatewayPayment(&pi)
		update.ExternalID = gp.ID
		update.ProviderStatus = gp.Status
		update.AmountMinor = gp.AmountMinor
		update.AmountReported = gp.AmountReported
		update.Currency = gp.Currency
		update.Metadata = gp.Metadata
		return update, update.ExternalID != "", nil

	case EventChargeRefunded:
		var ch stripeapi.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return domain.PaymentUpdate{}, false, domain.Validationf("malformed charge: %v", err)
		}
		if !ch.Refunded || ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
			// частичный возврат заказ не меняет
			return update, false, nil
		}
		update.ExternalID = ch.PaymentIntent.ID
		update.ProviderStatus = "refunded"
		update.Currency = strings.ToUpper(string(ch.Currency))
		update.Metadata = domain.DecodeCheckoutMetadata(ch.Metadata)
		return update, true, nil
	}
	return update, false, nil
}

// Verify проверяет подпись и возраст события через webhook-пакет SDK.
func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	if v.secret == "" || header == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}

// SignatureHeader собирает заголовок Stripe-Signature. Используется в тестах и sandbox-режиме.
func SignatureHeader(secret string, timestamp int64, payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Unix(timestamp, 0),
	})
	return signed.Header
}
