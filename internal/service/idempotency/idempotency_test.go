package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
)

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)
	hash := HashRequest("/payment-intent", []byte(`{"items":[]}`))

	_, replay, err := g.Begin(ctx, "", "key-1", hash)
	require.NoError(t, err)
	assert.False(t, replay)

	_, _, err = g.Begin(ctx, "", "key-1", hash)
	assert.ErrorIs(t, err, domain.ErrIdempotencyInProgress)
	assert.ErrorIs(t, err, domain.ErrConflict)

	g.Complete(ctx, "", "key-1", http.StatusOK, []byte(`{"orderId":"o1"}`))

	resp, replay, err := g.Begin(ctx, "", "key-1", hash)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"orderId":"o1"}`, string(resp.Body))
}

func TestGuard_DifferentBodyConflicts(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewIdempotencyRepository(), 0, nil)

	_, _, err := g.Begin(ctx, "", "key-2", HashRequest("/pix", []byte(`a`)))
	require.NoError(t, err)

	_, _, err = g.Begin(ctx, "", "key-2", HashRequest("/pix", []byte(`b`)))
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGuard_ClientErrorsAreReplayedServerErrorsAreNot(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := HashRequest("/pix", nil)

	_, _, err := g.Begin(ctx, "", "bad-request", hash)
	require.NoError(t, err)
	g.Complete(ctx, "", "bad-request", http.StatusBadRequest, []byte(`{"error":"x"}`))
	resp, replay, err := g.Begin(ctx, "", "bad-request", hash)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	_, _, err = g.Begin(ctx, "", "server-error", hash)
	require.NoError(t, err)
	g.Complete(ctx, "", "server-error", http.StatusInternalServerError, []byte(`{}`))
	_, replay, err = g.Begin(ctx, "", "server-error", hash)
	require.NoError(t, err)
	assert.False(t, replay, "a failed attempt must be executed again")
}

func TestGuard_KeysAreScopedPerCaller(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := HashRequest("/payment-intent", []byte(`{"items":[1]}`))

	_, _, err := g.Begin(ctx, "user:alice", "shared", hash)
	require.NoError(t, err)
	g.Complete(ctx, "user:alice", "shared", http.StatusOK, []byte(`{"clientSecret":"alice"}`))

	_, replay, err := g.Begin(ctx, "user:bob", "shared", hash)
	require.NoError(t, err)
	assert.False(t, replay, "another caller must not see a stored response")

	resp, replay, err := g.Begin(ctx, "user:alice", "shared", hash)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.JSONEq(t, `{"clientSecret":"alice"}`, string(resp.Body))
}

func TestGuard_AbandonedReservationExpires(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewIdempotencyRepository(), time.Minute, nil)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return start }
	hash := HashRequest("/pix", []byte(`{}`))

	_, _, err := g.Begin(ctx, "ip:203.0.113.7", "crashed", hash)
	require.NoError(t, err)
	_, _, err = g.Begin(ctx, "ip:203.0.113.7", "crashed", hash)
	require.ErrorIs(t, err, domain.ErrIdempotencyInProgress)

	g.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, replay, err := g.Begin(ctx, "ip:203.0.113.7", "crashed", hash)
	require.NoError(t, err, "reservation left by a crashed request must not block the key forever")
	assert.False(t, replay)
}

func TestGuard_KeyValidation(t *testing.T) {
	g := NewGuard(memory.NewIdempotencyRepository(), 0, nil)

	_, _, err := g.Begin(context.Background(), "", "  ", "h")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	long := make([]byte, maxKeyLength+1)
	for i := range long {
		long[i] = 'k'
	}
	_, _, err = g.Begin(context.Background(), "", string(long), "h")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHashRequest_DependsOnRoute(t *testing.T) {
	assert.NotEqual(t, HashRequest("/pix", []byte(`{}`)), HashRequest("/payment-intent", []byte(`{}`)))
	assert.Equal(t, HashRequest("/pix", []byte(`{}`)), HashRequest("/pix", []byte(`{}`)))
}

func TestCleaner_SweepBatches(t *testing.T) {
	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	c := NewCleaner(repo, WithBatchSize(2))

	deleted, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.Equal(t, 3, repo.calls())
}

func TestCleaner_SweepError(t *testing.T) {
	repo := &stubCleanupRepo{deleteErrors: []error{errors.New("boom")}}
	deleted, err := NewCleaner(repo, WithBatchSize(10)).Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, deleted)
}

func TestCleaner_RemovesExpiredKeys(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	_, err := repo.Reserve(ctx, domain.IdempotencyRecord{IdempotencyKey: domain.IdempotencyKey{Key: "old"}, RequestHash: "h", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, domain.IdempotencyRecord{IdempotencyKey: domain.IdempotencyKey{Key: "fresh"}, RequestHash: "h", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	deleted, err := NewCleaner(repo).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.Get(ctx, domain.IdempotencyKey{Key: "old"})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, domain.IdempotencyKey{Key: "fresh"})
	assert.NoError(t, err)
}

func TestCleaner_RunStopsOnCancel(t *testing.T) {
	repo := &stubCleanupRepo{}
	c := NewCleaner(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleaner did not stop on context cancel")
	}
	assert.Positive(t, repo.calls())
}

type stubCleanupRepo struct {
	domain.IdempotencyRepository

	mu            sync.Mutex
	deleteResults []int
	deleteErrors  []error
	callCount     int
}

func (s *stubCleanupRepo) Purge(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		return 0, err
	}
	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
