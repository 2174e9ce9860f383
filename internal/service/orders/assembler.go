package orders

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/money"
)

// Assembler собирает новый агрегат из запроса. Зависит только от часов.
type Assembler struct {
	now func() time.Time
}

// NewAssembler создаёт сборщик; nil now означает time.Now.
func NewAssembler(now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{now: now}
}

// Assemble строит заказ: клиентские поля, позиции с ценами в центах, пересчитанная сумма.
// Цены, которые нельзя перевести в центы, и сумма вне диапазона int64 возвращаются как ValidationError.
func (a *Assembler) Assemble(req CreateOrderRequest) (*domain.Order, error) {
	order := domain.NewOrder(a.now())
	order.CustomerName = req.CustomerName
	order.CustomerEmail = req.CustomerEmail

	var violations []domain.Violation
	for i, item := range req.Items {
		price, err := money.ToMinorUnits(item.Price)
		if err != nil {
			violations = append(violations, domain.Violation{Field: fmt.Sprintf("items[%d].price", i), Message: err.Error()})
			continue
		}
		order.AddItem(domain.NewOrderItem(item.ProductName, item.Quantity, price))
	}
	if err := domain.NewValidationError(violations); err != nil {
		return nil, err
	}

	if err := order.RecalculateTotal(); err != nil {
		return nil, domain.NewValidationError([]domain.Violation{{Field: "totalAmount", Message: domain.MsgTotalOverflow}})
	}
	return order, nil
}
