package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение topic'а.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// OutboxHandler раскрывает конверт события и передаёт outbox-сообщение в handle.
// Неразборчивый конверт возвращает ErrMalformedEnvelope, такое сообщение не повторяется.
func OutboxHandler(handle func(ctx context.Context, msg domain.OutboxMessage) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		msg, err := DecodeEnvelope(message)
		if err != nil {
			return err
		}
		return handle(ctx, msg)
	}
}

type consumerConfig struct {
	logger     *log.Entry
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*consumerConfig)

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *consumerConfig) { c.logger = logger }
}

// WithDeadLetter включает перенос необработанных сообщений в topic; пустой topic означает TopicDeadLetterQueue.
func WithDeadLetter(producer *Producer, topic string) ConsumerOption {
	return func(c *consumerConfig) {
		c.dlq = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxRetries задаёт общее число попыток обработки сообщения, включая сделанные до переотправки.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *consumerConfig) { c.retryDelay = max(d, 0) }
}

// Consumer читает topics в consumer group. Offset сообщения фиксируется после успешной
// обработки или после переноса в DLQ; иначе сообщение будет перечитано.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	cfg     consumerConfig
	now     func() time.Time
}

// NewConsumer подключается к consumer group groupID. Новая группа начинает с самых старых сообщений.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		dlqTopic:   TopicDeadLetterQueue,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "kafka-consumer")
	}
	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run читает сообщения до отмены ctx, затем закрывает consumer group.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range c.group.Errors() {
			c.cfg.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.cfg.logger.WithField("topics", c.topics).Info("kafka consumer started")
	for ctx.Err() == nil {
		// Consume возвращается после каждого rebalance.
		err := c.group.Consume(ctx, c.topics, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			break
		}
		if err != nil {
			c.cfg.logger.WithError(err).Error("consume session failed")
			if pause(ctx, c.cfg.retryDelay) != nil {
				break
			}
		}
	}

	closeErr := c.group.Close()
	wg.Wait()
	c.cfg.logger.Info("kafka consumer stopped")
	if closeErr != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", closeErr)
	}
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции по одному, сохраняя их порядок.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(ctx, message); err != nil {
				c.cfg.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// process вызывает handler, пока не исчерпан лимит попыток. nil означает, что offset можно
// фиксировать: сообщение обработано или лежит в DLQ.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := previousAttempts(message)
	for {
		err := c.handler(ctx, message)
		if err == nil {
			return nil
		}
		attempts++

		if errors.Is(err, ErrMalformedEnvelope) || attempts >= c.cfg.maxRetries {
			return c.park(ctx, message, err, attempts)
		}
		c.cfg.logger.WithError(err).WithFields(log.Fields{
			"topic":    message.Topic,
			"attempt":  attempts,
			"attempts": c.cfg.maxRetries,
		}).Warn("message processing failed, retrying")
		if err := pause(ctx, c.cfg.retryDelay); err != nil {
			return err
		}
	}
}

// park переносит сообщение в DLQ. Без DLQ возвращается причина, и offset остаётся на месте.
func (c *Consumer) park(ctx context.Context, message *sarama.ConsumerMessage, cause error, attempts int) error {
	if c.cfg.dlq == nil {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, cause)
	}
	if err := c.sendToDLQ(ctx, message, cause, attempts); err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}
	c.cfg.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"dlq_topic": c.cfg.dlqTopic,
		"attempts":  attempts,
	}).Info("message moved to DLQ")
	return nil
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := c.now().Format(time.RFC3339)
	return c.cfg.dlq.Send(ctx, Record{
		Topic: c.cfg.dlqTopic,
		Key:   string(message.Key),
		Value: DeadLetter{
			OriginalTopic:     message.Topic,
			OriginalPartition: message.Partition,
			OriginalOffset:    message.Offset,
			OriginalKey:       string(message.Key),
			OriginalValue:     string(message.Value),
			ErrorMessage:      cause.Error(),
			FailedAt:          failedAt,
			RetryCount:        attempts,
		},
		Headers: map[string]string{
			HeaderOriginalTopic: message.Topic,
			HeaderErrorMessage:  cause.Error(),
			HeaderFailedAt:      failedAt,
			HeaderRetryCount:    strconv.Itoa(attempts),
		},
	})
}

// previousAttempts читает x-retry-count; некорректное значение считается нулём.
func previousAttempts(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(header.Value)); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
