package orders

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/money"
)

func TestAssemble(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	assembler := NewAssembler(func() time.Time { return now })

	order, err := assembler.Assemble(validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.ID != 0 {
		t.Fatalf("assembled order must not have identity, got %d", order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if got := money.ToDecimalString(order.TotalMinor); got != "1050.99" {
		t.Fatalf("expected total 1050.99, got %s", got)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if order.Items[1].PriceMinor != 2550 || order.Items[1].Quantity != 2 {
		t.Fatalf("unexpected mouse item: %+v", order.Items[1])
	}
	if !order.CreatedAt.Equal(now) || !order.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps must come from the clock, got %v %v", order.CreatedAt, order.UpdatedAt)
	}
	if order.Items[0].ID == order.Items[1].ID {
		t.Fatal("each item must get its own identity")
	}
}

func TestAssembleRejectsOverflowingPrice(t *testing.T) {
	assembler := NewAssembler(nil)
	req := validRequest()
	req.Items[1].Price = 1e300

	_, err := assembler.Assemble(req)
	vErr, ok := domain.AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(vErr.Violations) != 1 || vErr.Violations[0].Field != "items[1].price" {
		t.Fatalf("unexpected violations: %v", vErr.Violations)
	}
}

func TestAssembleRejectsOverflowingTotal(t *testing.T) {
	cases := []struct {
		name  string
		items []CreateOrderItemRequest
	}{
		{name: "quantity times price", items: []CreateOrderItemRequest{{ProductName: "Yacht", Quantity: 3, Price: 7e16}}},
		{name: "sum of items", items: []CreateOrderItemRequest{
			{ProductName: "Yacht", Quantity: 1, Price: 5e16},
			{ProductName: "Island", Quantity: 1, Price: 5e16},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			req.Items = tc.items

			_, err := NewAssembler(nil).Assemble(req)
			vErr, ok := domain.AsValidationError(err)
			if !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
			want := domain.Violation{Field: "totalAmount", Message: domain.MsgTotalOverflow}
			if len(vErr.Violations) != 1 || vErr.Violations[0] != want {
				t.Fatalf("unexpected violations: %v", vErr.Violations)
			}
		})
	}
}

func TestAssembleAcceptsTotalAtInt64Limit(t *testing.T) {
	req := validRequest()
	// 9e18 центов: чуть меньше math.MaxInt64.
	req.Items = []CreateOrderItemRequest{{ProductName: "Everything", Quantity: 1, Price: 9e16}}

	order, err := NewAssembler(nil).Assemble(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.TotalMinor != 9e18 {
		t.Fatalf("expected total 9e18 cents, got %d", order.TotalMinor)
	}
}
