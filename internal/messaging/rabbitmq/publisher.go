package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Заголовки AMQP с метаданными агрегата.
const (
	HeaderAggregateType = "aggregate_type"
	HeaderAggregateID   = "aggregate_id"
)

const contentTypeJSON = "application/json"

// Publisher публикует outbox-сообщения в exchange; routing key: тип события.
type Publisher struct {
	client *Client
}

// NewPublisher создаёт паблишер поверх клиента.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish отправляет persistent-сообщение с payload outbox-записи.
func (p *Publisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.client == nil || p.client.channel == nil {
		return fmt.Errorf("rabbitmq publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.EventType,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			HeaderAggregateType: msg.AggregateType,
			HeaderAggregateID:   msg.AggregateID,
		},
		Body: msg.Payload,
	}

	exchange := p.client.topology.Exchange
	if err := p.client.channel.Publish(exchange, msg.EventType, false, false, publishing); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.EventType, exchange, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
