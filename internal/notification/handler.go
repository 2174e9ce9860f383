// Package notification отправляет клиенту письма по событиям заказа.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// Виды уведомлений для логов и метрик.
const (
	kindWelcome  = "welcome"
	kindShipping = "shipping"
	kindThankYou = "thank_you"
)

// Handler перечитывает заказ по id из сообщения и отправляет соответствующее письмо.
type Handler struct {
	orders  domain.OrderReader
	mailer  domain.Mailer
	logger  *log.Entry
	metrics *metrics.OrderMetrics
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

// WithMetrics включает метрики уведомлений.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler создаёт обработчик уведомлений.
func NewHandler(orders domain.OrderReader, mailer domain.Mailer, opts ...Option) *Handler {
	h := &Handler{
		orders: orders,
		mailer: mailer,
		logger: log.New().WithField("component", "notification-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle разбирает outbox-сообщение по типу события и вызывает нужный обработчик.
func (h *Handler) Handle(ctx context.Context, msg domain.OutboxMessage) error {
	switch msg.EventType {
	case domain.EventTypeOrderCreated:
		var payload domain.OrderCreatedMessage
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		return h.OnOrderCreated(ctx, payload)
	case domain.EventTypeOrderStatusChanged:
		var payload domain.OrderStatusChangedMessage
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		return h.OnOrderStatusChanged(ctx, payload)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, msg.EventType)
	}
}

// OnOrderCreated отправляет приветственное письмо.
// Удалённый к моменту обработки заказ: предупреждение в лог и успешное завершение.
func (h *Handler) OnOrderCreated(ctx context.Context, msg domain.OrderCreatedMessage) error {
	order, found, err := h.load(ctx, msg.OrderID)
	if err != nil {
		return err
	}
	if !found {
		h.logger.WithField("order_id", msg.OrderID).Warn("order not found for welcome email")
		h.metrics.RecordNotification(kindWelcome, metrics.ResultSkipped)
		return nil
	}

	if err := h.mailer.SendWelcomeEmail(ctx, order); err != nil {
		h.metrics.RecordNotification(kindWelcome, metrics.ResultError)
		return fmt.Errorf("send welcome email for order %d: %w", order.ID, err)
	}

	h.metrics.RecordNotification(kindWelcome, metrics.ResultSuccess)
	h.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"customer_email": order.CustomerEmail,
	}).Info("welcome email sent successfully")
	return nil
}

// OnOrderStatusChanged отправляет письмо об отгрузке (shipped) или благодарность (delivered).
// Остальные статусы писем не порождают.
func (h *Handler) OnOrderStatusChanged(ctx context.Context, msg domain.OrderStatusChangedMessage) error {
	var (
		kind string
		send func(context.Context, domain.Order) error
	)
	switch msg.NewStatus {
	case domain.OrderStatusShipped:
		kind, send = kindShipping, h.mailer.SendShippingEmail
	case domain.OrderStatusDelivered:
		kind, send = kindThankYou, h.mailer.SendThankYouEmail
	}

	order, found, err := h.load(ctx, msg.OrderID)
	if err != nil {
		return err
	}
	if !found {
		h.logger.WithField("order_id", msg.OrderID).Warn("order not found for status change email")
		if kind != "" {
			h.metrics.RecordNotification(kind, metrics.ResultSkipped)
		}
		return nil
	}
	if send == nil {
		return nil
	}

	if err := send(ctx, order); err != nil {
		h.metrics.RecordNotification(kind, metrics.ResultError)
		return fmt.Errorf("send %s email for order %d: %w", kind, order.ID, err)
	}

	h.metrics.RecordNotification(kind, metrics.ResultSuccess)
	h.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"old_status":     msg.OldStatus,
		"new_status":     msg.NewStatus,
		"customer_email": order.CustomerEmail,
	}).Info("status change email sent successfully")
	return nil
}

func (h *Handler) load(ctx context.Context, id int64) (domain.Order, bool, error) {
	order, err := h.orders.Get(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, fmt.Errorf("load order %d: %w", id, err)
	}
	return order, true, nil
}
