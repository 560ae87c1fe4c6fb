package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Attempts = 0

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', NOW())
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.EventType, err)
	}
	return msg, nil
}

// Claim занимает строки через FOR UPDATE SKIP LOCKED: параллельные воркеры
// разных реплик не получают одно сообщение одновременно.
func (r *outboxRepository) Claim(ctx context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox_messages AS m
		SET claimed_until = NOW() + make_interval(secs => $2),
		    attempt_count = m.attempt_count + 1
		FROM (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until <= NOW())
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) AS next
		WHERE m.id = next.id
		RETURNING m.id, m.aggregate_type, m.aggregate_id, m.event_type, m.payload, m.attempt_count, m.created_at
	`, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}
	defer rows.Close()

	type claimedRow struct {
		msg        domain.OutboxMessage
		enqueuedAt time.Time
	}
	var claimed []claimedRow
	for rows.Next() {
		var row claimedRow
		if err := rows.Scan(&row.msg.ID, &row.msg.AggregateType, &row.msg.AggregateID,
			&row.msg.EventType, &row.msg.Payload, &row.msg.Attempts, &row.enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan claimed outbox message: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed outbox messages: %w", err)
	}

	// RETURNING не сохраняет порядок подзапроса
	slices.SortFunc(claimed, func(a, b claimedRow) int {
		if c := a.enqueuedAt.Compare(b.enqueuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.msg.ID, b.msg.ID)
	})
	out := make([]domain.OutboxMessage, 0, len(claimed))
	for _, row := range claimed {
		out = append(out, row.msg)
	}
	return out, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, "sent", "")
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.settle(ctx, id, "failed", reason)
}

// settle закрывает только pending-сообщение, повторная отметка даёт ErrOutboxPublish.
func (r *outboxRepository) settle(ctx context.Context, id, status, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, last_error = $3, claimed_until = NULL, settled_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, status, reason)
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: rows affected: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: message %s is not pending", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
