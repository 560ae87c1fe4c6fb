package domain

import (
	"strings"
	"time"
)

// Типы событий timeline заказа.
const (
	TimelineOrderCreated          = "OrderCreated"
	TimelineOrderRecovered        = "OrderRecoveredFromWebhook"
	TimelinePaymentRequested      = "PaymentRequested"
	TimelinePaymentRequestFailed  = "PaymentRequestFailed"
	TimelineStatusChanged         = "StatusChanged"
	TimelineIntegrityMismatch     = "PaymentIntegrityMismatch"
	TimelineCouponRedeemed        = "CouponRedeemed"
	TimelineUpstreamCancelFailed  = "UpstreamCancelFailed"
	TimelineConfirmationEmailSent = "ConfirmationEmailSent"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// Seq назначает хранилище, он упорядочивает события с одинаковым Occurred.
type TimelineEvent struct {
	Seq      int64
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Validate проверяет обязательные поля события.
func (e TimelineEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return Validationf("timeline event requires an order id")
	}
	if strings.TrimSpace(e.Type) == "" {
		return Validationf("timeline event requires a type")
	}
	return nil
}

// Before задаёт порядок истории заказа.
func (e TimelineEvent) Before(other TimelineEvent) bool {
	if !e.Occurred.Equal(other.Occurred) {
		return e.Occurred.Before(other.Occurred)
	}
	return e.Seq < other.Seq
}
