// Package ratelimit ограничивает частоту запросов по ключу (обычно IP клиента).
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Limiter решает, можно ли обработать ещё один запрос для ключа.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter: окно фиксированной длины в Redis, общее для всех экземпляров сервиса.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewRedisLimiter создаёт лимитер: не более limit запросов за window на ключ.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// Allow увеличивает счётчик текущего окна и сравнивает его с лимитом.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= l.limit, nil
}

// LocalLimiter: token bucket на ключ внутри процесса.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	every    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter создаёт лимитер с limit запросами за window и таким же burst.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*entry),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		idleTTL:  10 * window,
		now:      time.Now,
	}
}

// Allow расходует токен ключа.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = e
		if len(l.limiters) > 10000 {
			l.evictIdle(now)
		}
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

func (l *LocalLimiter) evictIdle(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
}

// Fallback использует primary и переходит на secondary, если primary недоступен.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *log.Entry
}

// NewFallback создаёт лимитер с запасным вариантом.
func NewFallback(primary, secondary Limiter, logger *log.Entry) *Fallback {
	if logger == nil {
		logger = log.WithField("component", "ratelimit")
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Allow спрашивает primary, при ошибке спрашивает secondary.
func (f *Fallback) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := f.primary.Allow(ctx, key)
	if err == nil {
		return ok, nil
	}
	f.logger.WithError(err).Warn("shared rate limiter unavailable, using local limiter")
	return f.secondary.Allow(ctx, key)
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*LocalLimiter)(nil)
	_ Limiter = (*Fallback)(nil)
)
