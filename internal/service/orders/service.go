// Package orders реализует жизненный цикл заказа: создание, замену, смену статуса и удаление
// с публикацией доменных событий после успешного сохранения.
package orders

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/money"
)

// Названия операций для логов и метрик.
const (
	opCreate       = "create"
	opUpdate       = "update"
	opUpdateStatus = "update_status"
	opDelete       = "delete"
)

const (
	statusSaveAttempts  = 3
	statusRetryBaseWait = 10 * time.Millisecond
)

// EventPublisher: синхронная шина событий; возвращает число неудачных доставок.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) int
}

// Validator проверяет запросы и собранные агрегаты; пустой результат означает успех.
type Validator interface {
	Struct(s any) []domain.Violation
	Order(order *domain.Order) []domain.Violation
}

// Service выполняет сценарии изменения заказа: validate → mutate → persist → publish.
type Service struct {
	orders    domain.OrderRepository
	validator Validator
	events    EventPublisher
	assembler *Assembler
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	now       func() time.Time
	sleep     func(time.Duration)
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, validator Validator, events EventPublisher, opts ...Option) *Service {
	s := &Service{
		orders:    orders,
		validator: validator,
		events:    events,
		logger:    log.New().WithField("component", "order-service"),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.assembler = NewAssembler(s.now)
	return s
}

// GetOrder возвращает заказ или ошибку, удовлетворяющую errors.Is(err, domain.ErrOrderNotFound).
func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return order, nil
}

// ListOrders возвращает страницу заказов по фильтру.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}

// CreateOrder проверяет запрос, собирает и проверяет агрегат, сохраняет его и публикует OrderCreated.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (order domain.Order, err error) {
	defer s.observe(opCreate, time.Now(), &err)

	if err := s.validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	draft, err := s.assembler.Assemble(req)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.validateOrder(draft); err != nil {
		return domain.Order{}, err
	}

	created, err := s.orders.Create(ctx, *draft)
	if err != nil {
		s.logger.WithError(err).WithField("customer_email", draft.CustomerEmail).Error("failed to persist order")
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id": created.ID,
		"total":    money.ToDecimalString(created.TotalMinor),
		"items":    len(created.Items),
	}).Info("order created")

	s.publish(ctx, domain.OrderCreated{Order: created.Clone(), OccurredAt: s.now()})
	return created, nil
}

// UpdateOrder заменяет клиентские поля и весь набор позиций существующего заказа.
// Идентичность и дата создания сохраняются; StatusChanged публикуется, только если статус
// после сохранения отличается от снимка до обновления.
func (s *Service) UpdateOrder(ctx context.Context, order domain.Order, req CreateOrderRequest) (updated domain.Order, err error) {
	defer s.observe(opUpdate, time.Now(), &err)

	if order.ID == 0 {
		return domain.Order{}, domain.ErrOrderNotPersisted
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Order{}, err
	}

	originalStatus := order.Status

	staging, err := s.assembler.Assemble(req)
	if err != nil {
		return domain.Order{}, err
	}

	order = order.Clone()
	order.CustomerName = req.CustomerName
	order.CustomerEmail = req.CustomerEmail
	order.ReplaceItems(staging.Items)
	order.RecalculateTotal()
	order.Touch(s.now())

	if err := s.validateOrder(&order); err != nil {
		return domain.Order{}, err
	}

	saved, err := s.orders.Save(ctx, order)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order update")
		return domain.Order{}, fmt.Errorf("update order %d: %w", order.ID, err)
	}

	s.metrics.RecordOrderUpdated()
	s.logger.WithFields(log.Fields{
		"order_id": saved.ID,
		"total":    money.ToDecimalString(saved.TotalMinor),
		"items":    len(saved.Items),
	}).Info("order updated")

	if saved.Status != originalStatus {
		s.metrics.RecordStatusChange(string(originalStatus), string(saved.Status))
		s.publish(ctx, domain.OrderStatusChanged{
			Order:      saved.Clone(),
			From:       originalStatus,
			To:         saved.Status,
			OccurredAt: s.now(),
		})
	}
	return saved, nil
}

// UpdateOrderStatus переводит заказ в новый статус.
// Тот же статус считается no-op: без сохранения, без события, UpdatedAt не меняется.
// При конфликте версий заказ перечитывается и переход применяется заново.
func (s *Service) UpdateOrderStatus(ctx context.Context, order domain.Order, status domain.OrderStatus) (updated domain.Order, err error) {
	defer s.observe(opUpdateStatus, time.Now(), &err)

	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	current := order.Clone()
	for attempt := 0; attempt < statusSaveAttempts; attempt++ {
		change, changed := current.ApplyStatus(status, s.now())
		if !changed {
			s.metrics.RecordStatusNoop()
			s.logger.WithFields(log.Fields{
				"order_id": current.ID,
				"status":   status,
			}).Debug("status unchanged, skipping update")
			return current, nil
		}

		if err := s.validateOrder(&current); err != nil {
			return domain.Order{}, err
		}

		saved, err := s.orders.Save(ctx, current)
		if err == nil {
			s.metrics.RecordStatusChange(string(change.From), string(change.To))
			s.logger.WithFields(log.Fields{
				"order_id": saved.ID,
				"from":     change.From,
				"to":       change.To,
			}).Info("order status changed")

			s.publish(ctx, domain.OrderStatusChanged{
				Order:      saved.Clone(),
				From:       change.From,
				To:         change.To,
				OccurredAt: s.now(),
			})
			return saved, nil
		}

		if !domain.IsVersionConflict(err) || attempt == statusSaveAttempts-1 {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": current.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist status")
			return domain.Order{}, fmt.Errorf("update status of order %d: %w", current.ID, err)
		}

		s.logger.WithFields(log.Fields{
			"order_id": current.ID,
			"attempt":  attempt + 1,
			"version":  current.Version,
		}).Warn("version conflict detected, retrying")

		// Перечитываем свежую версию и применяем переход к ней.
		fresh, loadErr := s.orders.Get(ctx, current.ID)
		if loadErr != nil {
			return domain.Order{}, fmt.Errorf("reload order %d after conflict: %w", current.ID, loadErr)
		}
		current = fresh
		s.sleep(statusRetryBaseWait * time.Duration(1<<uint(attempt)))
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// DeleteOrder удаляет заказ вместе с позициями. События не публикуются.
func (s *Service) DeleteOrder(ctx context.Context, order domain.Order) (err error) {
	defer s.observe(opDelete, time.Now(), &err)

	if order.ID == 0 {
		return domain.ErrOrderNotPersisted
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return fmt.Errorf("delete order %d: %w", order.ID, err)
	}

	s.metrics.RecordOrderDeleted()
	s.logger.WithField("order_id", order.ID).Info("order deleted")
	return nil
}

func (s *Service) validateRequest(req CreateOrderRequest) error {
	return domain.NewValidationError(s.validator.Struct(req))
}

func (s *Service) validateOrder(order *domain.Order) error {
	return domain.NewValidationError(s.validator.Order(order))
}

// publish передаёт событие в шину. Сбой подписчика не откатывает уже сохранённое изменение.
func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	if failed := s.events.Publish(ctx, event); failed > 0 {
		s.logger.WithFields(log.Fields{
			"order_id":   event.AggregateID(),
			"event_type": event.EventType(),
			"failed":     failed,
		}).Warn("some event subscribers failed")
	}
}

func (s *Service) observe(operation string, start time.Time, err *error) {
	s.metrics.RecordOperation(operation, *err, time.Since(start))
}
