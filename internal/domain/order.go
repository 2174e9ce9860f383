package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции назначается при сборке и служит её идентичностью внутри агрегата.
	ID string
	// OrderID: обратная ссылка на владельца; только для поиска, не для управления временем жизни.
	OrderID int64
	// ProductName: название товара.
	ProductName string
	// Quantity: количество единиц товара.
	Quantity int32
	// PriceMinor: цена за единицу в центах.
	PriceMinor int64
}

// NewOrderItem создаёт позицию с новым идентификатором.
func NewOrderItem(productName string, quantity int32, priceMinor int64) OrderItem {
	return OrderItem{
		ID:          uuid.NewString(),
		ProductName: productName,
		Quantity:    quantity,
		PriceMinor:  priceMinor,
	}
}

// Subtotal возвращает price * quantity в центах; ok=false, если произведение не помещается в int64.
func (i OrderItem) Subtotal() (subtotal int64, ok bool) {
	return mulInt64(int64(i.Quantity), i.PriceMinor)
}

// Order является корнем агрегата: заказ и принадлежащие ему позиции.
type Order struct {
	// ID назначается хранилищем при первом сохранении.
	ID            int64
	CustomerName  string
	CustomerEmail string
	Items         []OrderItem
	// TotalMinor всегда равен сумме price * quantity по позициям после RecalculateTotal.
	TotalMinor int64
	Status     OrderStatus
	// Version используется хранилищем для optimistic locking.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder создаёт пустой заказ в статусе pending.
func NewOrder(now time.Time) *Order {
	now = now.UTC()
	return &Order{
		Status:    OrderStatusPending,
		Items:     []OrderItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasItem сообщает, содержит ли заказ позицию с данным идентификатором.
func (o *Order) HasItem(id string) bool {
	return o.itemIndex(id) >= 0
}

// AddItem добавляет позицию и проставляет обратную ссылку.
// Повторное добавление позиции с тем же ID ничего не меняет.
func (o *Order) AddItem(item OrderItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if o.HasItem(item.ID) {
		return
	}
	item.OrderID = o.ID
	o.Items = append(o.Items, item)
}

// RemoveItem отвязывает позицию от заказа и возвращает её.
// Хранилище удаляет такие позиции при сохранении заказа.
func (o *Order) RemoveItem(id string) (OrderItem, bool) {
	idx := o.itemIndex(id)
	if idx < 0 {
		return OrderItem{}, false
	}

	removed := o.Items[idx]
	removed.OrderID = 0

	items := make([]OrderItem, 0, len(o.Items)-1)
	items = append(items, o.Items[:idx]...)
	o.Items = append(items, o.Items[idx+1:]...)
	return removed, true
}

// ReplaceItems полностью заменяет набор позиций копиями переданных.
// Прежние позиции, которых нет в новом наборе, становятся сиротами и удаляются хранилищем.
func (o *Order) ReplaceItems(items []OrderItem) {
	o.Items = make([]OrderItem, 0, len(items))
	for _, item := range items {
		o.AddItem(item)
	}
}

// AssignID проставляет идентификатор, выданный хранилищем, и обновляет обратные ссылки.
func (o *Order) AssignID(id int64) {
	o.ID = id
	for i := range o.Items {
		o.Items[i].OrderID = id
	}
}

// RecalculateTotal пересчитывает сумму заказа по позициям. Если сумма не помещается в int64,
// TotalMinor обнуляется и возвращается ErrTotalOverflow.
func (o *Order) RecalculateTotal() error {
	total, ok := o.itemsTotal()
	if !ok {
		o.TotalMinor = 0
		return ErrTotalOverflow
	}
	o.TotalMinor = total
	return nil
}

// Touch обновляет отметку последнего изменения.
func (o *Order) Touch(now time.Time) {
	o.UpdatedAt = now.UTC()
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}

// ValidateInvariants проверяет инварианты агрегата и возвращает все нарушения сразу.
// Синтаксис email проверяет валидатор на уровне сервиса.
func (o *Order) ValidateInvariants() []Violation {
	var violations []Violation

	if strings.TrimSpace(o.CustomerName) == "" {
		violations = append(violations, Violation{Field: "customerName", Message: MsgNotBlank})
	}
	if strings.TrimSpace(o.CustomerEmail) == "" {
		violations = append(violations, Violation{Field: "customerEmail", Message: MsgNotBlank})
	}
	if !o.Status.Valid() {
		violations = append(violations, Violation{Field: "status", Message: fmt.Sprintf("unknown status %q", o.Status)})
	}
	if len(o.Items) == 0 {
		violations = append(violations, Violation{Field: "items", Message: MsgItemsRequired})
	}
	total, totalOK := o.itemsTotal()
	switch {
	case !totalOK:
		violations = append(violations, Violation{Field: "totalAmount", Message: MsgTotalOverflow})
	case o.TotalMinor <= 0:
		violations = append(violations, Violation{Field: "totalAmount", Message: MsgTotalPositive})
	}

	for i, item := range o.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if strings.TrimSpace(item.ProductName) == "" {
			violations = append(violations, Violation{Field: prefix + "productName", Message: MsgNotBlank})
		}
		if item.Quantity <= 0 {
			violations = append(violations, Violation{Field: prefix + "quantity", Message: MsgQuantityPositive})
		}
		if item.PriceMinor <= 0 {
			violations = append(violations, Violation{Field: prefix + "price", Message: MsgPricePositive})
		}
	}

	if totalOK && len(o.Items) > 0 && o.TotalMinor != total {
		violations = append(violations, Violation{Field: "totalAmount", Message: MsgTotalMismatch})
	}

	return violations
}

func (o *Order) itemsTotal() (int64, bool) {
	var total int64
	for _, item := range o.Items {
		subtotal, ok := item.Subtotal()
		if !ok {
			return 0, false
		}
		if total, ok = addInt64(total, subtotal); !ok {
			return 0, false
		}
	}
	return total, true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return product, true
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func (o *Order) itemIndex(id string) int {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return i
		}
	}
	return -1
}
