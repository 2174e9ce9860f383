package domain

import (
	"strconv"
	"time"
)

// Типы сообщений, которые уходят в outbox и дальше в транспорт.
const (
	EventTypeOrderCreated       = "order.created"
	EventTypeOrderStatusChanged = "order.status_changed"
	// AggregateTypeOrder: тип агрегата в outbox.
	AggregateTypeOrder = "order"
)

// Event: неизменяемый факт о завершённом изменении заказа.
type Event interface {
	// EventType возвращает тип сообщения, в которое проецируется событие.
	EventType() string
	// AggregateID возвращает идентификатор заказа.
	AggregateID() int64
}

// OrderCreated публикуется после сохранения нового заказа.
type OrderCreated struct {
	Order      Order
	OccurredAt time.Time
}

func (e OrderCreated) EventType() string  { return EventTypeOrderCreated }
func (e OrderCreated) AggregateID() int64 { return e.Order.ID }

// OrderStatusChanged публикуется после сохранения смены статуса.
type OrderStatusChanged struct {
	Order      Order
	From       OrderStatus
	To         OrderStatus
	OccurredAt time.Time
}

func (e OrderStatusChanged) EventType() string  { return EventTypeOrderStatusChanged }
func (e OrderStatusChanged) AggregateID() int64 { return e.Order.ID }

// OrderCreatedMessage: сериализуемая проекция OrderCreated, только идентификатор.
type OrderCreatedMessage struct {
	OrderID int64 `json:"order_id"`
}

// OrderStatusChangedMessage: сериализуемая проекция OrderStatusChanged.
type OrderStatusChangedMessage struct {
	OrderID   int64       `json:"order_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
}

// FormatAggregateID переводит идентификатор заказа в строковый ключ outbox/транспорта.
func FormatAggregateID(id int64) string {
	return strconv.FormatInt(id, 10)
}
