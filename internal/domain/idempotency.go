package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: ключ зарезервирован, запрос выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusCompleted: ответ сохранён и отдаётся повторам.
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusCompleted
}

// IdempotencyKey: Idempotency-Key клиента в пределах владельца.
// Scope вида "user:<id>" или "ip:<addr>", пустой scope допустим.
type IdempotencyKey struct {
	Scope string
	Key   string
}

func (k IdempotencyKey) String() string {
	if k.Scope == "" {
		return k.Key
	}
	return k.Scope + "/" + k.Key
}

// Validate проверяет, что ключ задан.
func (k IdempotencyKey) Validate() error {
	if strings.TrimSpace(k.Key) == "" {
		return ErrIdempotencyKeyRequired
	}
	return nil
}

// IdempotencyRecord: резерв или сохранённый ответ эндпоинта оформления заказа.
type IdempotencyRecord struct {
	IdempotencyKey
	RequestHash  string
	Status       IdempotencyStatus
	HTTPStatus   int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired: запись больше не защищает ключ и может быть перезаписана.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Replayable сообщает, можно ли отдать сохранённый ответ вместо повторной обработки.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusCompleted && r.HTTPStatus != 0
}
