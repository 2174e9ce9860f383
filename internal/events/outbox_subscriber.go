package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// OutboxSubscriber проецирует доменные события в сообщения и ставит их в outbox.
// Никакого I/O кроме постановки в очередь здесь нет.
type OutboxSubscriber struct {
	outbox domain.OutboxRepository
}

// NewOutboxSubscriber создаёт подписчика поверх репозитория outbox.
func NewOutboxSubscriber(outbox domain.OutboxRepository) *OutboxSubscriber {
	return &OutboxSubscriber{outbox: outbox}
}

// Handle сериализует событие и ставит его в outbox.
func (s *OutboxSubscriber) Handle(ctx context.Context, event domain.Event) error {
	msg, err := ToOutboxMessage(event)
	if err != nil {
		return err
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s for order %d: %w", msg.EventType, event.AggregateID(), err)
	}
	return nil
}

// ToOutboxMessage строит сообщение outbox из доменного события.
// В payload попадают только идентификатор заказа и значения статусов.
func ToOutboxMessage(event domain.Event) (domain.OutboxMessage, error) {
	var (
		payload    any
		occurredAt time.Time
	)
	switch e := event.(type) {
	case domain.OrderCreated:
		payload = domain.OrderCreatedMessage{OrderID: e.Order.ID}
		occurredAt = e.OccurredAt
	case domain.OrderStatusChanged:
		occurredAt = e.OccurredAt
		payload = domain.OrderStatusChangedMessage{
			OrderID:   e.Order.ID,
			OldStatus: e.From,
			NewStatus: e.To,
		}
	default:
		return domain.OutboxMessage{}, fmt.Errorf("%w: %T", domain.ErrUnknownEvent, event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   domain.FormatAggregateID(event.AggregateID()),
		EventType:     event.EventType(),
		Payload:       data,
		CreatedAt:     occurredAt.UTC(),
	}, nil
}
