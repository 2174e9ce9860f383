package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/money"
)

// OrderItemView: позиция заказа в ответе API.
type OrderItemView struct {
	ProductName string `json:"productName"`
	Quantity    int32  `json:"quantity"`
	Price       string `json:"price"`
}

// OrderView: заказ в ответе API; суммы в десятичном виде.
type OrderView struct {
	ID            int64           `json:"id"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   string          `json:"totalAmount"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Items         []OrderItemView `json:"items"`
}

// ListMeta: параметры пагинации.
type ListMeta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListResponse: ответ GET /api/orders.
type ListResponse struct {
	Data []OrderView `json:"data"`
	Meta ListMeta    `json:"meta"`
}

// ToView переводит агрегат в представление API.
func ToView(order domain.Order) OrderView {
	items := make([]OrderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemView{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       money.ToDecimalString(item.PriceMinor),
		})
	}

	return OrderView{
		ID:            order.ID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   money.ToDecimalString(order.TotalMinor),
		Status:        order.Status.String(),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		Items:         items,
	}
}
