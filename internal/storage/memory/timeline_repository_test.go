package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/storage/memory"
)

func TestTimelineRepository_KeepsHistoryOrdered(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appendAt := func(typ string, at time.Time) domain.TimelineEvent {
		t.Helper()
		event, err := repo.Append(ctx, domain.TimelineEvent{OrderID: "ord-1", Type: typ, Occurred: at})
		if err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
		return event
	}

	created := appendAt(domain.TimelineOrderCreated, base)
	changed := appendAt(domain.TimelineStatusChanged, base.Add(2*time.Second))
	// вебхук с более ранней отметкой времени
	requested := appendAt(domain.TimelinePaymentRequested, base.Add(time.Second))
	sameTime := appendAt(domain.TimelineCouponRedeemed, base.Add(2*time.Second))

	if created.Seq == 0 || changed.Seq <= created.Seq {
		t.Fatalf("sequence must grow: %d, %d", created.Seq, changed.Seq)
	}

	events, err := repo.List(ctx, "ord-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{domain.TimelineOrderCreated, domain.TimelinePaymentRequested, domain.TimelineStatusChanged, domain.TimelineCouponRedeemed}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("position %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
	if events[1].Seq != requested.Seq || events[3].Seq != sameTime.Seq {
		t.Fatalf("unexpected sequence placement: %+v", events)
	}

	events[0].Type = "mutated"
	again, _ := repo.List(ctx, "ord-1")
	if again[0].Type != domain.TimelineOrderCreated {
		t.Fatal("List must return a copy")
	}
}

func TestTimelineRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()

	if _, err := repo.Append(ctx, domain.TimelineEvent{Type: domain.TimelineOrderCreated}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without order id, got %v", err)
	}
	if _, err := repo.Append(ctx, domain.TimelineEvent{OrderID: "ord-1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without type, got %v", err)
	}

	event, err := repo.Append(ctx, domain.TimelineEvent{OrderID: "ord-2", Type: domain.TimelineOrderCreated})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if event.Occurred.IsZero() {
		t.Fatal("zero Occurred must be filled in")
	}
	if events, _ := repo.List(ctx, "missing"); len(events) != 0 {
		t.Fatalf("expected empty history, got %d", len(events))
	}
}
