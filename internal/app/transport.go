package app

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	memqueue "github.com/vladislavdragonenkov/orders/internal/messaging/memory"
	"github.com/vladislavdragonenkov/orders/internal/messaging/rabbitmq"
)

const (
	producerClientID = "orders-service"
	consumerTag      = "notification-worker"
)

// outboxTransport: куда outbox worker отправляет события.
// Для memory-транспорта queue читается в том же процессе.
type outboxTransport struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	queue     *memqueue.Queue
	closers   []func() error
}

// initTransport создаёт паблишер по cfg.Transport.
func initTransport(cfg Config, logger *log.Entry) (*outboxTransport, error) {
	switch cfg.Transport {
	case TransportMemory, "":
		queue := memqueue.NewQueue(0)
		logger.Info("using in-memory event transport")
		return &outboxTransport{publisher: queue, queue: queue}, nil
	case TransportKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, producerClientID)
		if err != nil {
			return nil, err
		}
		logger.WithFields(log.Fields{
			"brokers": cfg.KafkaBrokers,
			"topic":   cfg.KafkaTopic,
		}).Info("kafka producer initialized")
		return &outboxTransport{
			publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			dlq:       kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic),
			closers:   []func() error{producer.Close},
		}, nil
	case TransportRabbitMQ:
		client, err := dialRabbitMQ(cfg)
		if err != nil {
			return nil, err
		}
		logger.WithField("exchange", client.Topology().Exchange).Info("rabbitmq publisher initialized")
		return &outboxTransport{
			publisher: rabbitmq.NewPublisher(client),
			closers:   []func() error{client.Close},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

func dialRabbitMQ(cfg Config) (*rabbitmq.Client, error) {
	client, err := rabbitmq.Dial(cfg.RabbitMQURL, rabbitmq.Topology{
		Exchange:        cfg.RabbitMQExchange,
		Queue:           cfg.RabbitMQQueue,
		DeadLetterQueue: cfg.RabbitMQDeadLetterQueue,
	})
	if err != nil {
		return nil, err
	}
	if err := client.DeclareTopology(); err != nil {
		return nil, errors.Join(err, client.Close())
	}
	return client, nil
}

func (t *outboxTransport) close(logger *log.Entry) {
	if t == nil {
		return
	}
	for _, closeFn := range t.closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close event transport")
		}
	}
}
