package rabbitmq

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const defaultPrefetch = 10

// Handler обрабатывает outbox-сообщение.
type Handler func(ctx context.Context, msg domain.OutboxMessage) error

// Consumer читает очередь уведомлений последовательно, чтобы сохранить порядок событий.
type Consumer struct {
	client   *Client
	tag      string
	prefetch int
	logger   *log.Entry
}

// NewConsumer создаёт consumer очереди из топологии клиента.
func NewConsumer(client *Client, tag string) *Consumer {
	if tag == "" {
		tag = "notification-worker"
	}
	return &Consumer{
		client:   client,
		tag:      tag,
		prefetch: defaultPrefetch,
		logger:   log.WithField("component", "rabbitmq-consumer"),
	}
}

// Run потребляет сообщения до отмены ctx или закрытия канала доставок.
// Успех: Ack; ошибка обработчика: Nack без requeue, сообщение уходит в DLQ.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if err := c.client.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	queue := c.client.topology.Queue
	deliveries, err := c.client.channel.Consume(queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.logger.WithFields(log.Fields{
		"queue":        queue,
		"consumer_tag": c.tag,
	}).Info("rabbitmq consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("rabbitmq consumer stopped")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return nil
			}
			c.process(ctx, delivery, handle)
		}
	}
}

func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery, handle Handler) {
	msg := DecodeDelivery(delivery)
	logger := c.logger.WithFields(log.Fields{
		"delivery_tag": delivery.DeliveryTag,
		"message_id":   msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	if err := handle(ctx, msg); err != nil {
		logger.WithError(err).Error("failed to handle message, dead-lettering")
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			logger.WithError(nackErr).Error("failed to nack message")
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		logger.WithError(err).Error("failed to ack message")
		return
	}
	logger.Debug("message processed")
}

// DecodeDelivery восстанавливает outbox-сообщение из доставки AMQP.
func DecodeDelivery(delivery amqp.Delivery) domain.OutboxMessage {
	msg := domain.OutboxMessage{
		ID:        delivery.MessageId,
		EventType: delivery.Type,
		Payload:   delivery.Body,
		CreatedAt: delivery.Timestamp,
	}
	if msg.EventType == "" {
		msg.EventType = delivery.RoutingKey
	}
	if v, ok := delivery.Headers[HeaderAggregateType].(string); ok {
		msg.AggregateType = v
	}
	if v, ok := delivery.Headers[HeaderAggregateID].(string); ok {
		msg.AggregateID = v
	}
	return msg
}
