package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func newOrder(email string, created time.Time) domain.Order {
	order := domain.NewOrder(created)
	order.CustomerName = "John Doe"
	order.CustomerEmail = email
	order.AddItem(domain.NewOrderItem("Laptop", 1, 99999))
	order.RecalculateTotal()
	return *order
}

func emails(page domain.OrderPage) []string {
	out := make([]string, 0, len(page.Orders))
	for _, order := range page.Orders {
		out = append(out, order.CustomerEmail)
	}
	return out
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	created, err := repo.Create(ctx, newOrder("john@example.com", time.Now()))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.EqualValues(t, 1, created.Version)
	assert.Equal(t, created.ID, created.Items[0].OrderID, "items point back to the order")

	created.CustomerName = "mutated"
	stored, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", stored.CustomerName, "callers get copies")
	assert.EqualValues(t, 99999, stored.TotalMinor)
	assert.Len(t, stored.Items, 1)

	second, err := repo.Create(ctx, newOrder("jane@example.com", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, created.ID+1, second.ID)

	_, err = repo.Get(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	created, err := repo.Create(ctx, newOrder("john@example.com", time.Now()))
	require.NoError(t, err)
	stale := created.Clone()

	created.ReplaceItems([]domain.OrderItem{domain.NewOrderItem("Mouse", 2, 2550)})
	created.RecalculateTotal()
	saved, err := repo.Save(ctx, created)
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.Version)

	stored, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Mouse", stored.Items[0].ProductName, "previous items are replaced")
	assert.True(t, stored.CreatedAt.Equal(created.CreatedAt))

	_, err = repo.Save(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	unsaved := newOrder("ghost@example.com", time.Now())
	_, err = repo.Save(ctx, unsaved)
	assert.ErrorIs(t, err, domain.ErrOrderNotPersisted)

	unsaved.AssignID(99)
	_, err = repo.Save(ctx, unsaved)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	created, err := repo.Create(ctx, newOrder("john@example.com", time.Now()))
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, created.ID), domain.ErrOrderNotFound)
}

func TestOrderRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, email := range []string{"a@shop.com", "b@shop.com", "c@other.com"} {
		order := newOrder(email, base.Add(time.Duration(i)*24*time.Hour))
		if i == 2 {
			order.Status = domain.OrderStatusShipped
		}
		_, err := repo.Create(ctx, order)
		require.NoError(t, err)
	}

	shipped := domain.OrderStatusShipped
	from := base.Add(12 * time.Hour)
	to := base.Add(36 * time.Hour)

	tests := []struct {
		name       string
		filter     domain.OrderFilter
		wantTotal  int
		wantEmails []string
	}{
		{name: "first page newest first", filter: domain.OrderFilter{Page: 1, Limit: 2}, wantTotal: 3, wantEmails: []string{"c@other.com", "b@shop.com"}},
		{name: "second page", filter: domain.OrderFilter{Page: 2, Limit: 2}, wantTotal: 3, wantEmails: []string{"a@shop.com"}},
		{name: "page past the end", filter: domain.OrderFilter{Page: 5, Limit: 10}, wantTotal: 3, wantEmails: []string{}},
		{name: "no limit", filter: domain.OrderFilter{}, wantTotal: 3, wantEmails: []string{"c@other.com", "b@shop.com", "a@shop.com"}},
		{name: "by status", filter: domain.OrderFilter{Page: 1, Limit: 10, Status: &shipped}, wantTotal: 1, wantEmails: []string{"c@other.com"}},
		{name: "by email", filter: domain.OrderFilter{Page: 1, Limit: 10, EmailContains: "shop.com"}, wantTotal: 2, wantEmails: []string{"b@shop.com", "a@shop.com"}},
		{name: "by date range", filter: domain.OrderFilter{Page: 1, Limit: 10, CreatedFrom: &from, CreatedTo: &to}, wantTotal: 1, wantEmails: []string{"b@shop.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Equal(t, tt.wantEmails, emails(page))
		})
	}
}
