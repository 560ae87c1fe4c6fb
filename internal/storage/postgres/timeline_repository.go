package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append берёт Seq из BIGSERIAL. Событие для несуществующего заказа
// отклоняется внешним ключом и возвращается как ErrOrderNotFound.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	if err := event.Validate(); err != nil {
		return domain.TimelineEvent{}, err
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, event.OrderID, event.Type, event.Reason, event.Occurred).Scan(&event.Seq)
	if isForeignKeyViolation(err) {
		return domain.TimelineEvent{}, fmt.Errorf("append %s to order %s: %w", event.Type, event.OrderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("append %s to order %s: %w", event.Type, event.OrderID, err)
	}
	return event, nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, type, reason, occurred_at
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var history []domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.Seq, &e.OrderID, &e.Type, &e.Reason, &e.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		e.Occurred = e.Occurred.UTC()
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline of order %s: %w", orderID, err)
	}
	return history, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
