package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics содержит метрики оформления заказа, сверки платежей и выдачи файлов.
// Все методы безопасно вызывать на nil-получателе (сервисы в тестах работают без метрик).
type PaymentMetrics struct {
	// Создание заказов и платежей
	ordersCreated   *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec

	// Сверка
	transitions         *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	integrityMismatches prometheus.Counter
	versionRetries      prometheus.Counter

	// Побочные эффекты оплаты
	couponRedemptions *prometheus.CounterVec
	emails            *prometheus.CounterVec
	downloadLinks     *prometheus.CounterVec

	// Счётчики событий timeline/outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewPaymentMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewPaymentMetrics() *PaymentMetrics {
	return NewPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPaymentMetricsWithRegisterer регистрирует метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PaymentMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_orders_created_total",
			Help: "Total number of pending orders written before a gateway call",
		}, []string{"provider", "source"}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pdfstore_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"provider", "operation"}),
		gatewayErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_gateway_errors_total",
			Help: "Total number of failed payment gateway calls",
		}, []string{"provider", "operation"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_order_transitions_total",
			Help: "Total number of applied order status transitions",
		}, []string{"from", "to"}),
		webhookEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_webhook_events_total",
			Help: "Total number of gateway notifications grouped by result",
		}, []string{"provider", "result"}),
		integrityMismatches: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pdfstore_payment_integrity_mismatch_total",
			Help: "Total number of payments whose reported amount differs from the order total",
		}),
		versionRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pdfstore_order_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts retried",
		}),
		couponRedemptions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_coupon_redemptions_total",
			Help: "Total number of coupon redemption attempts grouped by result",
		}, []string{"result"}),
		emails: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_confirmation_emails_total",
			Help: "Total number of confirmation emails grouped by result",
		}, []string{"result"}),
		downloadLinks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pdfstore_download_links_total",
			Help: "Total number of download link requests grouped by result",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pdfstore_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pdfstore_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated считает заказ, созданный checkout-ом или восстановленный из webhook.
func (m *PaymentMetrics) RecordOrderCreated(provider, source string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(provider, source).Inc()
}

// ObserveGatewayCall записывает длительность вызова шлюза и ошибку, если она была.
func (m *PaymentMetrics) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
	if err != nil {
		m.gatewayErrors.WithLabelValues(provider, operation).Inc()
	}
}

// RecordTransition считает применённый переход статуса.
func (m *PaymentMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordWebhook считает обработанное уведомление шлюза.
func (m *PaymentMetrics) RecordWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, result).Inc()
}

// RecordIntegrityMismatch считает расхождение суммы платежа.
func (m *PaymentMetrics) RecordIntegrityMismatch() {
	if m == nil {
		return
	}
	m.integrityMismatches.Inc()
}

// RecordVersionConflict считает повтор из-за optimistic locking.
func (m *PaymentMetrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionRetries.Inc()
}

// RecordCouponRedemption считает попытку погашения купона.
func (m *PaymentMetrics) RecordCouponRedemption(result string) {
	if m == nil {
		return
	}
	m.couponRedemptions.WithLabelValues(result).Inc()
}

// RecordEmail считает попытку отправки письма.
func (m *PaymentMetrics) RecordEmail(result string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(result).Inc()
}

// RecordDownloadLink считает запрос ссылки на скачивание.
func (m *PaymentMetrics) RecordDownloadLink(result string) {
	if m == nil {
		return
	}
	m.downloadLinks.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *PaymentMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *PaymentMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
