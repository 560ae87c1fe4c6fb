package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

const idempotencyColumns = `scope, key, request_hash, status, http_status, response_body, expires_at, created_at`

// Reserve вставляет резерв или занимает просроченную строку одним запросом.
// Пустой RETURNING означает, что ключ занят живой записью.
func (r *idempotencyRepository) Reserve(ctx context.Context, record domain.IdempotencyRecord) (domain.IdempotencyRecord, error) {
	if err := record.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if record.RequestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Status = domain.IdempotencyStatusProcessing
	record.HTTPStatus = 0
	record.ResponseBody = nil

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var scope string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (scope, key, request_hash, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope, key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    status = EXCLUDED.status,
		    http_status = NULL,
		    response_body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    completed_at = NULL
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING scope
	`, record.Scope, record.Key, record.RequestHash, string(record.Status), record.ExpiresAt, record.CreatedAt).Scan(&scope)
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := r.Get(ctx, record.IdempotencyKey)
		if getErr != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("load reserved key %s: %w", record.IdempotencyKey, getErr)
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key %s: %w", record.IdempotencyKey, err)
	}
}

func (r *idempotencyRepository) Get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE scope = $1 AND key = $2`,
		key.Scope, key.Key,
	).Scan(&record.Scope, &record.Key, &record.RequestHash, &status, &httpStatus, &record.ResponseBody, &record.ExpiresAt, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, status)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	return record, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, key domain.IdempotencyKey, httpStatus int, body []byte) error {
	return r.execOne(ctx, key, "complete", `
		UPDATE idempotency_keys
		SET status = $3, http_status = $4, response_body = $5, completed_at = NOW()
		WHERE scope = $1 AND key = $2
	`, string(domain.IdempotencyStatusCompleted), httpStatus, body)
}

// Release удаляет только незавершённый резерв. Для завершённой записи это no-op.
func (r *idempotencyRepository) Release(ctx context.Context, key domain.IdempotencyKey) error {
	err := r.execOne(ctx, key, "release", `
		DELETE FROM idempotency_keys
		WHERE scope = $1 AND key = $2 AND status = $3
	`, string(domain.IdempotencyStatusProcessing))
	if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		if _, getErr := r.Get(ctx, key); getErr == nil {
			return nil
		}
	}
	return err
}

// Purge удаляет просроченные записи порцией. NULL в LIMIT снимает ограничение.
func (r *idempotencyRepository) Purge(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	batch := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE (scope, key) IN (
			SELECT scope, key FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: rows affected: %w", err)
	}
	return int(n), nil
}

func (r *idempotencyRepository) execOne(ctx context.Context, key domain.IdempotencyKey, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, append([]any{key.Scope, key.Key}, args...)...)
	if err != nil {
		return fmt.Errorf("%s idempotency key %s: %w", op, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s idempotency key %s: rows affected: %w", op, key, err)
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
