// Package httpapi: REST API заказов поверх chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	maxBodyBytes          = 1 << 20
	defaultIdempotencyTTL = 24 * time.Hour
)

// OrderService: сценарии заказа, которые вызывает API.
type OrderService interface {
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error)
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order, req orders.CreateOrderRequest) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, order domain.Order, status domain.OrderStatus) (domain.Order, error)
	DeleteOrder(ctx context.Context, order domain.Order) error
}

// StructValidator проверяет параметры запроса по validate-тегам.
type StructValidator interface {
	Struct(s any) []domain.Violation
}

// Handler обслуживает /api/orders.
type Handler struct {
	service        OrderService
	validator      StructValidator
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	logger         *log.Entry
	now            func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает поддержку заголовка Idempotency-Key для POST /api/orders.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// NewHandler создаёт обработчик API.
func NewHandler(service OrderService, validator StructValidator, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		validator:      validator,
		idempotencyTTL: defaultIdempotencyTTL,
		logger:         log.New().WithField("component", "http-api"),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// response: готовый к записи ответ; его же сохраняет idempotency-кэш.
type response struct {
	status   int
	body     []byte
	location string
}

func (resp response) write(w http.ResponseWriter) {
	if resp.location != "" {
		w.Header().Set("Location", resp.location)
	}
	if len(resp.body) == 0 {
		w.WriteHeader(resp.status)
		return
	}
	contentType := contentTypeJSON
	if resp.status >= http.StatusBadRequest {
		contentType = contentTypeProblem
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

func (h *Handler) encode(status int, payload any) response {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode response")
		body, _ = json.Marshal(newProblem(http.StatusInternalServerError, "An error occurred"))
		status = http.StatusInternalServerError
	}
	return response{status: status, body: append(body, '\n')}
}

func (h *Handler) errorResponse(r *http.Request, err error) response {
	p := problemFromError(err)
	if p.Status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	return h.encode(p.Status, p)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query, violations := parseListQuery(r.URL.Query())
	violations = append(violations, h.validator.Struct(query)...)
	if len(violations) > 0 {
		p := newProblem(http.StatusBadRequest, "Invalid query parameters")
		p.Violations = violations
		writeProblem(w, p)
		return
	}

	filter, err := query.Filter()
	if err != nil {
		writeProblem(w, newProblem(http.StatusBadRequest, err.Error()))
		return
	}

	page, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.errorResponse(r, err).write(w)
		return
	}

	data := make([]OrderView, 0, len(page.Orders))
	for _, order := range page.Orders {
		data = append(data, ToView(order))
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Data: data,
		Meta: ListMeta{
			Page:  query.Page,
			Limit: query.Limit,
			Total: page.Total,
			Pages: page.Pages(query.Limit),
		},
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ToView(order))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeProblem(w, newProblem(http.StatusBadRequest, err.Error()))
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if h.idempotency != nil && key != "" {
		h.createIdempotent(w, r, key, body)
		return
	}
	h.create(r, body).write(w)
}

func (h *Handler) create(r *http.Request, body []byte) response {
	var req orders.CreateOrderRequest
	if err := decodeJSON(body, &req); err != nil {
		return h.encode(http.StatusBadRequest, newProblem(http.StatusBadRequest, err.Error()))
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		return h.errorResponse(r, err)
	}

	resp := h.encode(http.StatusCreated, ToView(order))
	resp.location = orderLocation(order.ID)
	return resp
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}

	var req orders.CreateOrderRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, newProblem(http.StatusBadRequest, err.Error()))
		return
	}

	updated, err := h.service.UpdateOrder(r.Context(), order, req)
	if err != nil {
		h.errorResponse(r, err).write(w)
		return
	}
	writeJSON(w, http.StatusOK, ToView(updated))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteOrder(r.Context(), order); err != nil {
		h.errorResponse(r, err).write(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}

	var req orders.UpdateOrderStatusRequest
	if err := readJSON(w, r, &req); err != nil {
		writeProblem(w, newProblem(http.StatusBadRequest, err.Error()))
		return
	}
	if violations := h.validator.Struct(req); len(violations) > 0 {
		h.errorResponse(r, domain.NewValidationError(violations)).write(w)
		return
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.errorResponse(r, err).write(w)
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), order, status)
	if err != nil {
		h.errorResponse(r, err).write(w)
		return
	}
	writeJSON(w, http.StatusOK, ToView(updated))
}

// loadOrder находит заказ по {id}; при ошибке ответ уже записан.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, newProblem(http.StatusNotFound, "Order not found"))
		return domain.Order{}, false
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.errorResponse(r, err).write(w)
		return domain.Order{}, false
	}
	return order, true
}

func orderLocation(id int64) string {
	return fmt.Sprintf("/api/orders/%d", id)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return decodeJSON(body, dst)
}

func decodeJSON(body []byte, dst any) error {
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}
