// Package rabbitmq публикует и потребляет outbox-сообщения через RabbitMQ.
package rabbitmq

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Значения топологии по умолчанию.
const (
	DefaultExchange        = "orders.events"
	DefaultQueue           = "orders.notifications"
	DefaultDeadLetterQueue = "orders.notifications.dlq"
	deadLetterExchangeKind = "fanout"
)

// Channel: подмножество *amqp.Channel, которым пользуется пакет.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Topology описывает exchange и очереди уведомлений.
type Topology struct {
	Exchange        string
	Queue           string
	DeadLetterQueue string
}

func (t Topology) withDefaults() Topology {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.Queue == "" {
		t.Queue = DefaultQueue
	}
	if t.DeadLetterQueue == "" {
		t.DeadLetterQueue = DefaultDeadLetterQueue
	}
	return t
}

func (t Topology) deadLetterExchange() string {
	return t.Exchange + ".dlx"
}

// Client держит соединение и канал RabbitMQ.
type Client struct {
	conn     *amqp.Connection
	channel  Channel
	topology Topology
	logger   *log.Entry
}

// Dial подключается к брокеру и открывает канал.
func Dial(url string, topology Topology) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	client := NewClient(channel, topology)
	client.conn = conn
	client.logger.Info("rabbitmq connected")
	return client, nil
}

// NewClient оборачивает готовый канал.
func NewClient(channel Channel, topology Topology) *Client {
	return &Client{
		channel:  channel,
		topology: topology.withDefaults(),
		logger:   log.WithField("component", "rabbitmq-client"),
	}
}

// Topology возвращает действующую топологию.
func (c *Client) Topology() Topology {
	return c.topology
}

// DeclareTopology объявляет exchange событий, очередь уведомлений и её dead-letter очередь.
// Очередь получает все события заказов; отклонённые сообщения уходят в DLQ.
func (c *Client) DeclareTopology() error {
	t := c.topology

	if err := c.channel.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if err := c.channel.ExchangeDeclare(t.deadLetterExchange(), deadLetterExchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.deadLetterExchange(), err)
	}

	if _, err := c.channel.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue, err)
	}
	if err := c.channel.QueueBind(t.DeadLetterQueue, "", t.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.DeadLetterQueue, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": t.deadLetterExchange()}
	if _, err := c.channel.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := c.channel.QueueBind(t.Queue, "order.#", t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.Queue, err)
	}

	c.logger.WithFields(log.Fields{
		"exchange": t.Exchange,
		"queue":    t.Queue,
		"dlq":      t.DeadLetterQueue,
	}).Info("rabbitmq topology declared")
	return nil
}

// Close закрывает канал и соединение.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
