package domain

import (
	"context"
	"time"
)

// OrderFilter задаёт фильтры и пагинацию для списка заказов.
type OrderFilter struct {
	// Page начинается с 1.
	Page  int
	Limit int
	// Status, если задан, оставляет только заказы в этом статусе.
	Status *OrderStatus
	// CreatedFrom и CreatedTo ограничивают created_at включительно.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	// EmailContains: подстрока email клиента.
	EmailContains string
}

// Offset возвращает смещение для текущей страницы.
func (f OrderFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// OrderPage: страница заказов и общее количество по фильтру.
type OrderPage struct {
	Orders []Order
	Total  int
}

// Pages возвращает количество страниц при заданном лимите.
func (p OrderPage) Pages(limit int) int {
	if limit <= 0 {
		return 0
	}
	return (p.Total + limit - 1) / limit
}

// OrderReader: чтение заказов; этого достаточно обработчикам уведомлений.
type OrderReader interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id int64) (Order, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	OrderReader
	// Create сохраняет новый заказ и возвращает его с назначенным ID и версией.
	Create(ctx context.Context, order Order) (Order, error)
	// List возвращает страницу заказов по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) (OrderPage, error)
	// Save применяет обновления с учётом optimistic locking и возвращает новую версию.
	// Позиции, которых больше нет в заказе, удаляются.
	Save(ctx context.Context, order Order) (Order, error)
	// Delete удаляет заказ вместе с позициями.
	Delete(ctx context.Context, id int64) error
}
