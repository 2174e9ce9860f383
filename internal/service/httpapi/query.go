package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	dateLayout   = "2006-01-02"
)

// ListOrdersQuery: параметры GET /api/orders.
type ListOrdersQuery struct {
	Page     int    `json:"page" validate:"min=1,max=1000"`
	Limit    int    `json:"limit" validate:"min=1,max=100"`
	Status   string `json:"status" validate:"omitempty,oneof=pending processing shipped delivered cancelled"`
	DateFrom string `json:"dateFrom" validate:"omitempty,datetime=2006-01-02"`
	DateTo   string `json:"dateTo" validate:"omitempty,datetime=2006-01-02"`
	Email    string `json:"email"`
}

// parseListQuery читает параметры; нечисловые page/limit сразу дают нарушение.
func parseListQuery(values url.Values) (ListOrdersQuery, []domain.Violation) {
	q := ListOrdersQuery{
		Page:     defaultPage,
		Limit:    defaultLimit,
		Status:   strings.TrimSpace(values.Get("status")),
		DateFrom: strings.TrimSpace(values.Get("dateFrom")),
		DateTo:   strings.TrimSpace(values.Get("dateTo")),
		Email:    strings.TrimSpace(values.Get("email")),
	}

	var violations []domain.Violation
	for _, p := range []struct {
		name   string
		target *int
	}{{"page", &q.Page}, {"limit", &q.Limit}} {
		raw := strings.TrimSpace(values.Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			violations = append(violations, domain.Violation{Field: p.name, Message: "This value should be of type int."})
			continue
		}
		*p.target = n
	}
	return q, violations
}

// Filter переводит проверенный запрос в фильтр репозитория.
// dateTo включает весь указанный день.
func (q ListOrdersQuery) Filter() (domain.OrderFilter, error) {
	filter := domain.OrderFilter{
		Page:          q.Page,
		Limit:         q.Limit,
		EmailContains: q.Email,
	}

	if q.Status != "" {
		status, err := domain.ParseOrderStatus(q.Status)
		if err != nil {
			return domain.OrderFilter{}, err
		}
		filter.Status = &status
	}
	if q.DateFrom != "" {
		from, err := time.ParseInLocation(dateLayout, q.DateFrom, time.UTC)
		if err != nil {
			return domain.OrderFilter{}, fmt.Errorf("parse dateFrom: %w", err)
		}
		filter.CreatedFrom = &from
	}
	if q.DateTo != "" {
		day, err := time.ParseInLocation(dateLayout, q.DateTo, time.UTC)
		if err != nil {
			return domain.OrderFilter{}, fmt.Errorf("parse dateTo: %w", err)
		}
		to := day.Add(24*time.Hour - time.Nanosecond)
		filter.CreatedTo = &to
	}
	return filter, nil
}
