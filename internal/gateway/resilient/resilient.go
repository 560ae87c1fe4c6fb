// Package resilient оборачивает платёжные шлюзы повторами с экспоненциальной
// задержкой и circuit breaker. Повторяются только ошибки класса ErrUpstream:
// создание платежа безопасно повторять, потому что шлюзу передаётся ключ идемпотентности.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает вызовы.
var ErrCircuitOpen = domain.UpstreamError("payment gateway", errors.New("circuit breaker is open"))

// RetryConfig конфигурация повторов.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	return c
}

// CircuitState: состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures подряд и через resetTimeout
// пропускает пробный вызов.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        CircuitState
	now          func() time.Time
	logger       *log.Entry
}

// NewCircuitBreaker создаёт breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		now:          time.Now,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow(operation string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return true
	}
	if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
		return true
	}
	return false
}

// record учитывает результат. Только ошибки шлюза размыкают цепь.
func (cb *CircuitBreaker) record(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && errors.Is(err, domain.ErrUpstream) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{"operation": operation, "failures": cb.failures}).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

// executor выполняет вызовы шлюза с повторами и breaker.
type executor struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

func newExecutor(cfg RetryConfig, breaker *CircuitBreaker, logger *log.Entry) executor {
	if logger == nil {
		logger = log.WithField("component", "resilient-gateway")
	}
	return executor{cfg: cfg.withDefaults(), breaker: breaker, logger: logger, sleep: sleepContext}
}

func (e executor) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := e.cfg.InitialDelay

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if e.breaker != nil && !e.breaker.allow(operation) {
			return fmt.Errorf("%s: %w", operation, ErrCircuitOpen)
		}

		err := fn(ctx)
		if e.breaker != nil {
			e.breaker.record(operation, err)
		}
		if err == nil {
			if attempt > 1 {
				e.logger.WithFields(log.Fields{"operation": operation, "attempt": attempt}).Info("gateway call succeeded after retry")
			}
			return nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrUpstream) || attempt == e.cfg.MaxAttempts {
			break
		}

		e.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("gateway call failed, retrying")
		if err := e.sleep(ctx, delay); err != nil {
			return lastErr
		}
		delay = time.Duration(float64(delay) * e.cfg.BackoffFactor)
		if delay > e.cfg.MaxDelay {
			delay = e.cfg.MaxDelay
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type lookup struct {
	inner domain.PaymentLookup
	exec  executor
	name  string
}

func (l lookup) GetPayment(ctx context.Context, id string) (domain.GatewayPayment, error) {
	var out domain.GatewayPayment
	err := l.exec.do(ctx, l.name+".get_payment", func(ctx context.Context) error {
		var err error
		out, err = l.inner.GetPayment(ctx, id)
		return err
	})
	return out, err
}

func (l lookup) CancelPayment(ctx context.Context, id string) error {
	return l.exec.do(ctx, l.name+".cancel_payment", func(ctx context.Context) error {
		return l.inner.CancelPayment(ctx, id)
	})
}

// CardGateway: карточный шлюз с повторами.
type CardGateway struct {
	lookup
	inner domain.CardGateway
}

// NewCardGateway оборачивает карточный шлюз. breaker может быть nil.
func NewCardGateway(inner domain.CardGateway, cfg RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *CardGateway {
	exec := newExecutor(cfg, breaker, logger)
	return &CardGateway{lookup: lookup{inner: inner, exec: exec, name: "card"}, inner: inner}
}

// CreatePaymentIntent создаёт intent, повторяя сбои шлюза с тем же ключом идемпотентности.
func (g *CardGateway) CreatePaymentIntent(ctx context.Context, params domain.CardIntentParams) (domain.CardIntent, error) {
	var out domain.CardIntent
	err := g.exec.do(ctx, "card.create_intent", func(ctx context.Context) error {
		var err error
		out, err = g.inner.CreatePaymentIntent(ctx, params)
		return err
	})
	return out, err
}

// PixGateway: PIX-шлюз с повторами.
type PixGateway struct {
	lookup
	inner domain.PixGateway
}

// NewPixGateway оборачивает PIX-шлюз. breaker может быть nil.
func NewPixGateway(inner domain.PixGateway, cfg RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *PixGateway {
	exec := newExecutor(cfg, breaker, logger)
	return &PixGateway{lookup: lookup{inner: inner, exec: exec, name: "pix"}, inner: inner}
}

// CreatePixPayment создаёт платёж, повторяя сбои шлюза с тем же ключом идемпотентности.
func (g *PixGateway) CreatePixPayment(ctx context.Context, params domain.PixPaymentParams) (domain.PixCharge, error) {
	var out domain.PixCharge
	err := g.exec.do(ctx, "pix.create_payment", func(ctx context.Context) error {
		var err error
		out, err = g.inner.CreatePixPayment(ctx, params)
		return err
	})
	return out, err
}

var (
	_ domain.CardGateway = (*CardGateway)(nil)
	_ domain.PixGateway  = (*PixGateway)(nil)
)
