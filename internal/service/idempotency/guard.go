package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// DefaultTTL: сколько хранится ответ на запрос с ключом.
const DefaultTTL = 24 * time.Hour

const maxKeyLength = 255

// Response: сохранённый ответ на запрос.
type Response struct {
	Status int
	Body   []byte
}

// Guard не даёт выполнить один и тот же запрос дважды.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl <= 0 означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{repo: repo, ttl: ttl, now: time.Now, logger: logger}
}

// HashRequest вычисляет отпечаток запроса: маршрут и тело.
func HashRequest(route string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(route))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// Begin резервирует ключ в пределах scope (пользователь или адрес клиента).
// Если запрос с этим ключом уже завершён, возвращает сохранённый ответ и replay == true.
// Ключ с другим телом или ещё выполняющийся запрос дают ошибку класса ErrConflict.
func (g *Guard) Begin(ctx context.Context, scope, key, requestHash string) (Response, bool, error) {
	id := domain.IdempotencyKey{Scope: scope, Key: strings.TrimSpace(key)}
	if err := id.Validate(); err != nil {
		return Response{}, false, err
	}
	if len(id.Key) > maxKeyLength {
		return Response{}, false, domain.Validationf("idempotency key must not exceed %d characters", maxKeyLength)
	}

	now := g.now().UTC()
	existing, err := g.repo.Reserve(ctx, domain.IdempotencyRecord{
		IdempotencyKey: id,
		RequestHash:    requestHash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.ttl),
	})
	switch {
	case err == nil:
		return Response{}, false, nil
	case !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return Response{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	case existing.RequestHash != requestHash:
		return Response{}, false, domain.ErrIdempotencyHashMismatch
	case existing.Replayable():
		return Response{Status: existing.HTTPStatus, Body: existing.ResponseBody}, true, nil
	default:
		return Response{}, false, domain.ErrIdempotencyInProgress
	}
}

// Complete сохраняет ответ. Ответ 5xx снимает резерв, и повтор с тем же ключом
// выполнится заново.
func (g *Guard) Complete(ctx context.Context, scope, key string, status int, body []byte) {
	id := domain.IdempotencyKey{Scope: scope, Key: strings.TrimSpace(key)}
	var err error
	if status >= 500 {
		err = g.repo.Release(ctx, id)
	} else {
		err = g.repo.Complete(ctx, id, status, body)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", id.String()).Warn("failed to store idempotent response")
	}
}
