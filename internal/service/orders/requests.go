package orders

// CreateOrderItemRequest: позиция во входящем запросе; цена в десятичном виде.
type CreateOrderItemRequest struct {
	ProductName string  `json:"productName" validate:"notblank"`
	Quantity    int32   `json:"quantity" validate:"gt=0"`
	Price       float64 `json:"price" validate:"gt=0"`
}

// CreateOrderRequest используется и для создания, и для полной замены заказа.
type CreateOrderRequest struct {
	CustomerName  string                   `json:"customerName" validate:"notblank"`
	CustomerEmail string                   `json:"customerEmail" validate:"notblank,email"`
	Items         []CreateOrderItemRequest `json:"items" validate:"min=1,dive"`
}

// UpdateOrderStatusRequest: тело PATCH /api/orders/{id}/status.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"notblank"`
}
