package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
)

func reservation(scope, key, hash string, now time.Time, ttl time.Duration) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		IdempotencyKey: domain.IdempotencyKey{Scope: scope, Key: key},
		RequestHash:    hash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestIdempotencyRepository_ReserveAndComplete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	key := domain.IdempotencyKey{Scope: "user:u1", Key: "checkout-1"}

	created, err := repo.Reserve(ctx, reservation(key.Scope, key.Key, "hash-1", now, time.Hour))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", created.Status)
	}

	existing, err := repo.Reserve(ctx, reservation(key.Scope, key.Key, "hash-2", now, time.Hour))
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.RequestHash != "hash-1" {
		t.Fatalf("conflict must return the stored record, got hash %s", existing.RequestHash)
	}

	if err := repo.Complete(ctx, key, 200, []byte(`{"orderId":"o1"}`)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Replayable() || string(got.ResponseBody) != `{"orderId":"o1"}` {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := repo.Get(ctx, domain.IdempotencyKey{Scope: "user:u2", Key: key.Key}); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("key of another scope must be absent, got %v", err)
	}
}

func TestIdempotencyRepository_ExpiredReservationIsReplaced(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	start := time.Now().UTC()

	if _, err := repo.Reserve(ctx, reservation("", "stale", "hash-a", start, time.Minute)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	later := start.Add(2 * time.Minute)
	fresh, err := repo.Reserve(ctx, reservation("", "stale", "hash-b", later, time.Minute))
	if err != nil {
		t.Fatalf("expired reservation must be replaced, got %v", err)
	}
	if fresh.RequestHash != "hash-b" {
		t.Fatalf("unexpected hash %s", fresh.RequestHash)
	}
}

func TestIdempotencyRepository_ReleaseKeepsCompletedResponse(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	pending := domain.IdempotencyKey{Key: "pending"}
	done := domain.IdempotencyKey{Key: "done"}

	for _, k := range []domain.IdempotencyKey{pending, done} {
		if _, err := repo.Reserve(ctx, reservation(k.Scope, k.Key, "h", now, time.Hour)); err != nil {
			t.Fatalf("Reserve %s failed: %v", k, err)
		}
	}
	if err := repo.Complete(ctx, done, 201, []byte(`{}`)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := repo.Release(ctx, pending); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := repo.Release(ctx, done); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := repo.Get(ctx, pending); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("released reservation must be gone, got %v", err)
	}
	if _, err := repo.Get(ctx, done); err != nil {
		t.Fatalf("completed response must survive Release, got %v", err)
	}
}

func TestIdempotencyRepository_PurgeAndValidation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for i, key := range []string{"old-1", "old-2", "old-3"} {
		if _, err := repo.Reserve(ctx, reservation("", key, "h", now.Add(-time.Hour), time.Duration(i+1)*time.Minute)); err != nil {
			t.Fatalf("Reserve %s failed: %v", key, err)
		}
	}
	if _, err := repo.Reserve(ctx, reservation("", "active", "h", now, time.Hour)); err != nil {
		t.Fatalf("Reserve active failed: %v", err)
	}

	removed, err := repo.Purge(ctx, now, 2)
	if err != nil || removed != 2 {
		t.Fatalf("Purge(limit 2)=%d, %v", removed, err)
	}
	removed, err = repo.Purge(ctx, now, 0)
	if err != nil || removed != 1 {
		t.Fatalf("Purge(no limit)=%d, %v", removed, err)
	}
	if _, err := repo.Get(ctx, domain.IdempotencyKey{Key: "active"}); err != nil {
		t.Fatalf("active key must survive purge: %v", err)
	}

	if _, err := repo.Reserve(ctx, reservation("", " ", "h", now, time.Hour)); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.Reserve(ctx, reservation("", "k", "", now, time.Hour)); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}
