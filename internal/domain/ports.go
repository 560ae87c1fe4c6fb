package domain

import (
	"context"
	"time"
)

// PaymentLookup: общие операции шлюзов для опроса и отмены платежа.
type PaymentLookup interface {
	// GetPayment возвращает текущее состояние платежа у провайдера.
	GetPayment(ctx context.Context, id string) (GatewayPayment, error)
	// CancelPayment отменяет платёж, пока он не оплачен.
	CancelPayment(ctx context.Context, id string) error
}

// CardGateway: шлюз A (карты, payment intents).
type CardGateway interface {
	PaymentLookup
	CreatePaymentIntent(ctx context.Context, params CardIntentParams) (CardIntent, error)
}

// PixGateway: шлюз B (PIX с QR-кодом).
type PixGateway interface {
	PaymentLookup
	CreatePixPayment(ctx context.Context, params PixPaymentParams) (PixCharge, error)
}

// ObjectSigner выдаёт короткоживущие подписанные ссылки на объекты хранилища.
type ObjectSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Mailer отправляет письма. Ошибки отправки вызывающая сторона не пробрасывает клиенту.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository хранит события заказов до публикации в брокер.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// Claim забирает до limit pending-сообщений на время lease. Сообщение,
	// которое не отметили до истечения lease, снова становится доступным.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	// Append сохраняет событие и возвращает его с назначенными Seq и Occurred.
	Append(ctx context.Context, event TimelineEvent) (TimelineEvent, error)
	// List возвращает историю заказа в порядке TimelineEvent.Before.
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит резервы и ответы эндпоинтов оформления заказа.
type IdempotencyRepository interface {
	// Reserve записывает резерв processing. Для занятого непросроченного ключа
	// возвращает существующую запись и ErrIdempotencyKeyAlreadyExists.
	// Просроченная запись перезаписывается.
	Reserve(ctx context.Context, record IdempotencyRecord) (IdempotencyRecord, error)
	Get(ctx context.Context, key IdempotencyKey) (IdempotencyRecord, error)
	Complete(ctx context.Context, key IdempotencyKey, httpStatus int, body []byte) error
	// Release снимает резерв, повтор с тем же ключом выполнится заново.
	Release(ctx context.Context, key IdempotencyKey) error
	// Purge удаляет до limit записей с ExpiresAt <= before, limit <= 0 снимает ограничение.
	Purge(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// Attempts: сколько раз сообщение забирали на публикацию.
	Attempts int
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
