// Package memory: хранилища в памяти процесса для локального запуска и тестов.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OrderRepository держит заказы в map; наружу всегда уходят копии.
type OrderRepository struct {
	mu     sync.RWMutex
	lastID int64
	orders map[int64]domain.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[int64]domain.Order)}
}

// Create выдаёт заказу следующий id и версию 1.
func (r *OrderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	stored := order.Clone()
	stored.AssignID(r.lastID)
	stored.Version = 1
	r.orders[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *OrderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List: новые заказы первыми, при равном created_at больший id первым.
func (r *OrderRepository) List(_ context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Order
	for _, order := range r.orders {
		if matchesFilter(order, filter) {
			matched = append(matched, order)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})

	start := min(max(filter.Offset(), 0), len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, end)
	}
	page := domain.OrderPage{Total: len(matched), Orders: make([]domain.Order, 0, end-start)}
	for _, order := range matched[start:end] {
		page.Orders = append(page.Orders, order.Clone())
	}
	return page, nil
}

// Save заменяет заказ целиком, если его версия совпадает с сохранённой, и увеличивает версию.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	if order.ID == 0 {
		return domain.Order{}, domain.ErrOrderNotPersisted
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.Order{}, domain.ErrOrderNotFound
	case current.Version != order.Version:
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	stored := order.Clone()
	stored.AssignID(order.ID)
	stored.CreatedAt = current.CreatedAt
	stored.Version = current.Version + 1
	r.orders[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *OrderRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.orders, id)
	return nil
}

func matchesFilter(order domain.Order, filter domain.OrderFilter) bool {
	switch {
	case filter.Status != nil && order.Status != *filter.Status:
		return false
	case filter.CreatedFrom != nil && order.CreatedAt.Before(*filter.CreatedFrom):
		return false
	case filter.CreatedTo != nil && order.CreatedAt.After(*filter.CreatedTo):
		return false
	default:
		return strings.Contains(order.CustomerEmail, filter.EmailContains)
	}
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
