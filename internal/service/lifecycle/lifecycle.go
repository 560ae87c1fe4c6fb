// Package lifecycle содержит общие для сервисов заказа операции: сохранение
// с повтором при конфликте версий и запись событий в timeline и outbox.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
)

// Типы событий outbox.
const (
	EventOrderCreated   = "order.created"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
	EventOrderRefunded  = "order.refunded"
)

const (
	maxSaveAttempts = 4
	baseRetryDelay  = 10 * time.Millisecond
)

// EventTypeFor возвращает тип outbox-события для входа в статус.
func EventTypeFor(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusCompleted:
		return EventOrderCompleted
	case domain.OrderStatusCancelled:
		return EventOrderCancelled
	case domain.OrderStatusRefunded:
		return EventOrderRefunded
	default:
		return EventOrderCreated
	}
}

// Mutation изменяет свежую копию заказа. Возвращает false, если сохранять нечего.
type Mutation func(order *domain.Order) (bool, error)

// Recorder пишет события заказа и сохраняет изменения с повтором.
// Любое поле может быть nil, кроме orders.
type Recorder struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.PaymentMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewRecorder создаёт Recorder.
func NewRecorder(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	m *metrics.PaymentMetrics,
	logger *log.Entry,
) *Recorder {
	if logger == nil {
		logger = log.WithField("component", "order-lifecycle")
	}
	return &Recorder{
		orders:   orders,
		timeline: timeline,
		outbox:   outbox,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Now возвращает текущее время recorder-а.
func (r *Recorder) Now() time.Time {
	return r.now()
}

// SetClock подменяет источник времени.
func (r *Recorder) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Update читает заказ, применяет mutate и сохраняет результат.
// При конфликте версий заказ перечитывается и mutate вызывается заново,
// поэтому решение всегда принимается по актуальному состоянию.
// changed == false означает, что mutate ничего не изменил и записи не было.
func (r *Recorder) Update(ctx context.Context, orderID string, mutate Mutation) (domain.Order, bool, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		order, err := r.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, false, err
		}

		changed, err := mutate(&order)
		if err != nil {
			return order, false, err
		}
		if !changed {
			return order, false, nil
		}

		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return order, false, errors.Join(errs...)
		}

		err = r.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) {
			return order, false, err
		}

		r.metrics.RecordVersionConflict()
		r.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		select {
		case <-ctx.Done():
			return order, false, ctx.Err()
		case <-time.After(baseRetryDelay * time.Duration(1<<uint(attempt))):
		}
	}
	return domain.Order{}, false, domain.ErrOrderVersionConflict
}

// Transition переводит заказ в статус to с повтором при конфликте версий.
// applied == true только у вызова, который действительно сменил статус.
// prepare, если задан, вызывается перед переходом на свежей копии заказа.
func (r *Recorder) Transition(ctx context.Context, orderID string, to domain.OrderStatus, prepare func(*domain.Order)) (order domain.Order, from domain.OrderStatus, applied bool, err error) {
	order, applied, err = r.Update(ctx, orderID, func(o *domain.Order) (bool, error) {
		from = o.Status
		before := o.PaymentStatus + "|" + o.ExternalPaymentID
		if prepare != nil {
			prepare(o)
		}
		moved, err := o.TransitionTo(to, r.now())
		if err != nil {
			return false, err
		}
		return moved || before != o.PaymentStatus+"|"+o.ExternalPaymentID, nil
	})
	if err != nil || !applied {
		return order, from, false, err
	}
	if from == order.Status {
		// записаны только поля платежа
		return order, from, false, nil
	}

	r.metrics.RecordTransition(string(from), string(order.Status))
	r.RecordStatusChange(ctx, order, from)
	return order, from, true, nil
}

// RecordStatusChange пишет timeline и outbox для применённого перехода.
func (r *Recorder) RecordStatusChange(ctx context.Context, order domain.Order, from domain.OrderStatus) {
	r.Timeline(ctx, order.ID, domain.TimelineStatusChanged, string(from)+" -> "+string(order.Status))
	r.Emit(ctx, order, EventTypeFor(order.Status), map[string]any{
		"from":           string(from),
		"status":         string(order.Status),
		"payment_status": order.PaymentStatus,
		"external_id":    order.ExternalPaymentID,
	})
}

// Timeline добавляет событие в историю заказа. Ошибки только логируются.
func (r *Recorder) Timeline(ctx context.Context, orderID, eventType, reason string) {
	if r.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: r.now(),
	}
	if _, err := r.timeline.Append(ctx, event); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("append timeline event failed")
		return
	}
	r.metrics.RecordTimelineEvent()
}

// Emit ставит событие заказа в outbox. Ошибки только логируются.
func (r *Recorder) Emit(ctx context.Context, order domain.Order, eventType string, payload map[string]any) {
	if r.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["order_id"] = order.ID
	payload["user_id"] = order.UserID
	payload["email"] = order.Email
	payload["total_minor"] = order.TotalMinor
	payload["currency"] = order.Currency
	payload["provider"] = string(order.Provider)
	payload["ts"] = r.now().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := r.outbox.Enqueue(ctx, msg); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
		return
	}
	r.metrics.RecordOutboxEvent()
}
