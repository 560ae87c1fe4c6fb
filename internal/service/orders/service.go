// Package orders реализует операции покупателя над заказом.
package orders

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/metrics"
	"github.com/vladislavdragonenkov/pdfstore/internal/service/lifecycle"
)

// Service отменяет заказы.
type Service struct {
	orders   domain.OrderRepository
	recorder *lifecycle.Recorder
	lookups  map[domain.PaymentProvider]domain.PaymentLookup
	metrics  *metrics.PaymentMetrics
	logger   *log.Entry
}

// NewService создаёт сервис. lookups содержит клиенты шлюзов для отмены платежа у провайдера.
func NewService(
	orders domain.OrderRepository,
	recorder *lifecycle.Recorder,
	lookups map[domain.PaymentProvider]domain.PaymentLookup,
	m *metrics.PaymentMetrics,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	if lookups == nil {
		lookups = map[domain.PaymentProvider]domain.PaymentLookup{}
	}
	return &Service{
		orders:   orders,
		recorder: recorder,
		lookups:  lookups,
		metrics:  m,
		logger:   logger,
	}
}

// Get возвращает заказ.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

// Cancel отменяет pending-заказ. Повторная отмена считается успешным no-op,
// оплаченный заказ отменить нельзя. Ошибка отмены у провайдера только
// логируется: локальная отмена от неё не зависит.
func (s *Service) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := checkCancellable(order.Status); err != nil || order.Status == domain.OrderStatusCancelled {
		return order, err
	}

	if order.ExternalPaymentID != "" {
		s.cancelUpstream(ctx, order)
	}

	updated, from, _, err := s.recorder.Transition(ctx, order.ID, domain.OrderStatusCancelled, nil)
	if err != nil {
		// за время отмены заказ мог быть оплачен или отменён
		if checkErr := checkCancellable(from); checkErr != nil {
			return updated, checkErr
		}
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":    updated.ID,
		"external_id": updated.ExternalPaymentID,
	}).Info("order cancelled")
	return updated, nil
}

func checkCancellable(status domain.OrderStatus) error {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusCancelled:
		return nil
	case domain.OrderStatusCompleted:
		return domain.ErrOrderAlreadyPaid
	default:
		return domain.ErrInvalidTransition
	}
}

func (s *Service) cancelUpstream(ctx context.Context, order domain.Order) {
	lookup, ok := s.lookups[order.Provider]
	if !ok {
		return
	}
	logger := s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"external_id": order.ExternalPaymentID,
		"provider":    order.Provider,
	})

	start := time.Now()
	err := lookup.CancelPayment(ctx, order.ExternalPaymentID)
	s.metrics.ObserveGatewayCall(string(order.Provider), "cancel", time.Since(start), err)
	if err != nil {
		logger.WithError(err).Warn("upstream cancel failed, cancelling locally")
		s.recorder.Timeline(ctx, order.ID, domain.TimelineUpstreamCancelFailed, err.Error())
	}
}
