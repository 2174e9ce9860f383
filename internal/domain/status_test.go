package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestParseOrderStatus(t *testing.T) {
	for _, status := range domain.OrderStatuses {
		got, err := domain.ParseOrderStatus(string(status))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", status, err)
		}
		if got != status {
			t.Fatalf("expected %s, got %s", status, got)
		}
	}

	for _, token := range []string{"", "PENDING", "refunded", "canceled"} {
		if _, err := domain.ParseOrderStatus(token); !errors.Is(err, domain.ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus for %q, got %v", token, err)
		}
	}
}

func TestApplyStatusSameIsNoop(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	order := domain.NewOrder(created)

	change, changed := order.ApplyStatus(domain.OrderStatusPending, created.Add(time.Hour))
	if changed {
		t.Fatalf("expected no-op, got change %+v", change)
	}
	if !order.UpdatedAt.Equal(created) {
		t.Fatalf("updatedAt must not move on no-op, got %v", order.UpdatedAt)
	}
}

func TestApplyStatusAnyDistinctPairAllowed(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := created.Add(time.Minute)

	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			if from == to {
				continue
			}
			order := domain.NewOrder(created)
			order.Status = from

			change, changed := order.ApplyStatus(to, later)
			if !changed {
				t.Fatalf("%s -> %s must be allowed", from, to)
			}
			if change.From != from || change.To != to {
				t.Fatalf("unexpected change %+v for %s -> %s", change, from, to)
			}
			if order.Status != to {
				t.Fatalf("expected status %s, got %s", to, order.Status)
			}
			if !order.UpdatedAt.Equal(later) {
				t.Fatalf("updatedAt must be refreshed, got %v", order.UpdatedAt)
			}
			if !order.CreatedAt.Equal(created) {
				t.Fatalf("createdAt must not change, got %v", order.CreatedAt)
			}
		}
	}
}
