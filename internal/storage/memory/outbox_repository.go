package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	seq          uint64
	msg          domain.OutboxMessage
	state        outboxState
	enqueuedAt   time.Time
	claimedUntil time.Time
	lastError    string
}

// OutboxRepository: in-memory очередь событий заказов.
type OutboxRepository struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*outboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry), now: time.Now}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, ok := r.entries[msg.ID]; ok {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already enqueued", msg.ID)
	}
	msg.Attempts = 0
	r.seq++
	r.entries[msg.ID] = &outboxEntry{seq: r.seq, msg: msg, enqueuedAt: r.now().UTC()}
	return msg, nil
}

// Claim отдаёт сообщения в порядке постановки, пропуская те, чей lease ещё не истёк.
func (r *OutboxRepository) Claim(_ context.Context, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	now := r.now().UTC()

	var claimed []domain.OutboxMessage
	for _, e := range r.backlogLocked() {
		if len(claimed) == limit {
			break
		}
		if e.claimedUntil.After(now) {
			continue
		}
		e.claimedUntil = now.Add(lease)
		e.msg.Attempts++
		claimed = append(claimed, e.msg)
	}
	return claimed, nil
}

// Stats считает и свободные, и занятые pending-сообщения.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	backlog := r.backlogLocked()
	stats := domain.OutboxStats{PendingCount: len(backlog)}
	if len(backlog) > 0 {
		stats.OldestPendingAt = backlog[0].enqueuedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent, "")
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id, reason string) error {
	return r.settle(id, outboxFailed, reason)
}

// AllPending возвращает копию неотправленных сообщений.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	backlog := r.backlogLocked()
	out := make([]domain.OutboxMessage, 0, len(backlog))
	for _, e := range backlog {
		out = append(out, e.msg)
	}
	return out
}

// LastError возвращает причину, с которой сообщение ушло в failed.
func (r *OutboxRepository) LastError(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.lastError
	}
	return ""
}

func (r *OutboxRepository) settle(id string, state outboxState, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != outboxPending {
		return fmt.Errorf("%w: message %s is not pending", domain.ErrOutboxPublish, id)
	}
	e.state = state
	e.lastError = reason
	e.claimedUntil = time.Time{}
	return nil
}

func (r *OutboxRepository) backlogLocked() []*outboxEntry {
	backlog := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == outboxPending {
			backlog = append(backlog, e)
		}
	}
	slices.SortFunc(backlog, func(a, b *outboxEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return backlog
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
