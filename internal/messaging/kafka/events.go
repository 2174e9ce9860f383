package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Topics по умолчанию; в сервисе их переопределяет конфигурация.
const (
	TopicOrderEvents     = "orders.events"
	TopicDeadLetterQueue = "orders.dlq"
)

// Заголовки сообщений: тип события и служебные поля DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// ErrMalformedEnvelope: сообщение нельзя разобрать; повтор не поможет.
var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// Envelope: формат outbox-сообщения в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение для отправки.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// OutboxMessage восстанавливает outbox-сообщение из конверта.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
		CreatedAt:     e.PublishedAt,
	}
}

// DecodeEnvelope разбирает сообщение из топика в outbox-сообщение.
func DecodeEnvelope(message *sarama.ConsumerMessage) (domain.OutboxMessage, error) {
	if message == nil {
		return domain.OutboxMessage{}, fmt.Errorf("%w: nil message", ErrMalformedEnvelope)
	}

	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope.EventType == "" {
		return domain.OutboxMessage{}, fmt.Errorf("%w: event_type is empty", ErrMalformedEnvelope)
	}
	return envelope.OutboxMessage(), nil
}
