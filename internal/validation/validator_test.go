package validation_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/validation"
)

type itemInput struct {
	ProductName string  `json:"productName" validate:"notblank"`
	Quantity    int32   `json:"quantity" validate:"gt=0"`
	Price       float64 `json:"price" validate:"gt=0"`
}

type orderInput struct {
	CustomerName  string      `json:"customerName" validate:"notblank"`
	CustomerEmail string      `json:"customerEmail" validate:"notblank,email"`
	Items         []itemInput `json:"items" validate:"min=1,dive"`
}

func fields(violations []domain.Violation) map[string]string {
	out := make(map[string]string, len(violations))
	for _, v := range violations {
		out[v.Field] = v.Message
	}
	return out
}

func TestStructValid(t *testing.T) {
	v := validation.New()
	in := orderInput{
		CustomerName:  "John Doe",
		CustomerEmail: "john@example.com",
		Items:         []itemInput{{ProductName: "Laptop", Quantity: 1, Price: 999.99}},
	}
	if violations := v.Struct(in); len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestStructCollectsEveryViolation(t *testing.T) {
	v := validation.New()
	in := orderInput{CustomerName: "  ", CustomerEmail: "not-an-email"}

	got := fields(v.Struct(in))
	want := map[string]string{
		"customerName":  domain.MsgNotBlank,
		"customerEmail": domain.MsgInvalidEmail,
		"items":         domain.MsgItemsRequired,
	}
	for field, msg := range want {
		if got[field] != msg {
			t.Fatalf("field %s: expected %q, got %q (all: %v)", field, msg, got[field], got)
		}
	}
}

func TestStructItemMessages(t *testing.T) {
	v := validation.New()
	in := orderInput{
		CustomerName:  "Jane",
		CustomerEmail: "jane@example.com",
		Items:         []itemInput{{ProductName: "", Quantity: 0, Price: -1}},
	}

	got := fields(v.Struct(in))
	if got["items[0].productName"] != domain.MsgNotBlank {
		t.Fatalf("unexpected productName message: %v", got)
	}
	if got["items[0].quantity"] != domain.MsgQuantityPositive {
		t.Fatalf("unexpected quantity message: %v", got)
	}
	if got["items[0].price"] != domain.MsgPricePositive {
		t.Fatalf("unexpected price message: %v", got)
	}
}

func TestOrderChecksEmailSyntax(t *testing.T) {
	v := validation.New()
	order := domain.NewOrder(time.Now())
	order.CustomerName = "John"
	order.CustomerEmail = "john-at-example"
	order.AddItem(domain.NewOrderItem("Laptop", 1, 100))
	order.RecalculateTotal()

	got := fields(v.Order(order))
	if got["customerEmail"] != domain.MsgInvalidEmail {
		t.Fatalf("expected invalid email violation, got %v", got)
	}

	order.CustomerEmail = "john@example.com"
	if violations := v.Order(order); len(violations) != 0 {
		t.Fatalf("expected valid order, got %v", violations)
	}
}
