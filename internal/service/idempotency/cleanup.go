package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdfstore_idempotency_cleanup_runs_total",
		Help: "Idempotency key cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdfstore_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency keys deleted.",
	})
)

// CleanupOption настраивает Cleaner.
type CleanupOption func(*Cleaner)

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(c *Cleaner) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(c *Cleaner) {
		if batchSize > 0 {
			c.batchSize = batchSize
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(c *Cleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cleaner периодически удаляет ключи с истёкшим TTL.
type Cleaner struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleaner создаёт воркер очистки.
func NewCleaner(repo domain.IdempotencyRepository, options ...CleanupOption) *Cleaner {
	c := &Cleaner{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleaner"),
		interval:  15 * time.Minute,
		batchSize: 200,
		now:       time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Run чистит ключи сразу и затем по таймеру до отмены ctx.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		deleted, err := c.Sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			cleanupRuns.WithLabelValues("error").Inc()
			c.logger.WithError(err).Warn("idempotency cleanup failed")
		default:
			cleanupRuns.WithLabelValues("ok").Inc()
			if deleted > 0 {
				c.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep удаляет все просроченные ключи порциями и возвращает их число.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	before := c.now().UTC()
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := c.repo.Purge(ctx, before, c.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		cleanupDeleted.Add(float64(deleted))
		if deleted < c.batchSize {
			return total, nil
		}
	}
}
