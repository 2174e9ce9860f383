package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ принят и ждёт обработки. Статус по умолчанию.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing: заказ собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses перечисляет все допустимые статусы.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к перечислению.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

// ParseOrderStatus разбирает внешний токен статуса. Неизвестные значения дают ErrInvalidStatus.
func ParseOrderStatus(token string) (OrderStatus, error) {
	status := OrderStatus(strings.TrimSpace(token))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, token)
	}
	return status, nil
}

// StatusChange фиксирует переход между двумя разными статусами.
type StatusChange struct {
	From OrderStatus
	To   OrderStatus
}

// ApplyStatus переводит заказ в новый статус.
// Если статус не меняется, заказ не трогается и возвращается false.
// Ограничений на пары переходов нет: допустим любой переход между разными статусами.
func (o *Order) ApplyStatus(next OrderStatus, now time.Time) (StatusChange, bool) {
	if next == o.Status {
		return StatusChange{}, false
	}

	change := StatusChange{From: o.Status, To: next}
	o.Status = next
	o.Touch(now)
	return change, true
}
