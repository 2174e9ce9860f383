package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Record: сообщение для публикации. Value сериализуется в JSON, []byte уходит как есть.
type Record struct {
	Topic   string
	Key     string
	Value   any
	Headers map[string]string
}

// Producer синхронно публикует JSON-сообщения и ждёт подтверждения от всех in-sync реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// NewProducer подключается к брокерам с конфигурацией producerConfig.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer), nil
}

// producerConfig включает идемпотентную отправку: без дублей при ретраях и с порядком
// внутри партиции. Ключ хешируется, так что события одного заказа идут в одну партицию.
func producerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer (в тестах: mocks.SyncProducer).
func NewProducerFromSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
		now:      time.Now,
	}
}

// Send публикует rec и возвращается после подтверждения брокером.
// Отменённый ctx прерывает отправку до обращения к брокеру.
func (p *Producer) Send(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := p.message(rec)
	if err != nil {
		return err
	}

	fields := log.Fields{"topic": rec.Topic, "key": rec.Key}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("failed to send message to kafka")
		return fmt.Errorf("send to %s: %w", rec.Topic, err)
	}
	p.logger.WithFields(fields).WithFields(log.Fields{
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

func (p *Producer) message(rec Record) (*sarama.ProducerMessage, error) {
	if rec.Topic == "" {
		return nil, fmt.Errorf("kafka record has no topic")
	}
	value, err := encodeValue(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", rec.Topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: p.now(),
	}
	if rec.Key != "" {
		msg.Key = sarama.StringEncoder(rec.Key)
	}
	names := make([]string, 0, len(rec.Headers))
	for name := range rec.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(rec.Headers[name])})
	}
	return msg, nil
}

func encodeValue(value any) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(value)
}

// Close сбрасывает буферы и закрывает подключения к брокерам.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
