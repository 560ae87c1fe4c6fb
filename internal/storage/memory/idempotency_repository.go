package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

type idempotencyRepository struct {
	mu      sync.Mutex
	records map[domain.IdempotencyKey]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepository{records: make(map[domain.IdempotencyKey]domain.IdempotencyRecord)}
}

func (r *idempotencyRepository) Reserve(_ context.Context, record domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	if err := record.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if record.RequestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[record.IdempotencyKey]; ok && !existing.Expired(record.CreatedAt) {
		return cloneIdempotencyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record.Status = domain.IdempotencyStatusProcessing
	record.HTTPStatus = 0
	record.ResponseBody = nil
	r.records[record.IdempotencyKey] = record
	return record, nil
}

func (r *idempotencyRepository) Get(_ context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

func (r *idempotencyRepository) Complete(_ context.Context, key domain.IdempotencyKey, httpStatus int, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = domain.IdempotencyStatusCompleted
	record.HTTPStatus = httpStatus
	record.ResponseBody = append([]byte(nil), body...)
	r.records[key] = record
	return nil
}

func (r *idempotencyRepository) Release(_ context.Context, key domain.IdempotencyKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	// сохранённый ответ не снимается
	if record.Status == domain.IdempotencyStatusProcessing {
		delete(r.records, key)
	}
	return nil
}

func (r *idempotencyRepository) Purge(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.Expired(before) {
			delete(r.records, key)
			removed++
		}
	}
	return removed, nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
