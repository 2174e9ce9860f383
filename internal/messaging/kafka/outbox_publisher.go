package kafka

import (
	"cmp"
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// ErrPublisherNotConfigured: паблишер создан без producer.
var ErrPublisherNotConfigured = errors.New("kafka outbox publisher has no producer")

// OutboxTopicPublisher кладёт outbox-сообщения в один topic, завернув их в Envelope.
// Ключ записи это id заказа: события одного заказа попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher: пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    cmp.Or(topic, TopicOrderEvents),
		now:      time.Now,
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return ErrPublisherNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.producer.Send(ctx, p.record(msg))
}

func (p *OutboxTopicPublisher) record(msg domain.OutboxMessage) Record {
	return Record{
		Topic:   p.topic,
		Key:     cmp.Or(msg.AggregateID, msg.ID),
		Value:   NewEnvelope(msg, p.now()),
		Headers: map[string]string{HeaderEventType: msg.EventType},
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
