package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

type timelineRepository struct {
	mu      sync.Mutex
	seq     int64
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие на своё место: вебхуки могут прийти с более ранним Occurred.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	if err := event.Validate(); err != nil {
		return domain.TimelineEvent{}, err
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	event.Seq = r.seq
	history := r.byOrder[event.OrderID]
	at, _ := slices.BinarySearchFunc(history, event, func(have, want domain.TimelineEvent) int {
		if have.Before(want) {
			return -1
		}
		return 1
	})
	r.byOrder[event.OrderID] = slices.Insert(history, at, event)
	return event, nil
}

func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.byOrder[orderID]), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
