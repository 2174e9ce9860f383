package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// DeadLetter: запись, которую consumer кладёт в DLQ после исчерпания попыток.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// OutboxDeadLetter: payload конверта, который outbox worker отправляет в DLQ.
type OutboxDeadLetter = domain.OutboxDeadLetter

// Replay: сообщение из DLQ, подготовленное к повторной публикации.
type Replay struct {
	Topic     string
	Key       string
	EventType string
	Value     []byte
}

// Record готовит повторную отправку через Producer: байты исходного сообщения не перекодируются.
func (r Replay) Record() Record {
	rec := Record{Topic: r.Topic, Key: r.Key, Value: r.Value}
	if r.EventType != "" {
		rec.Headers = map[string]string{HeaderEventType: r.EventType}
	}
	return rec
}

// ReplayFromDeadLetter восстанавливает исходное событие из DLQ-сообщения.
// Поддерживаются записи consumer'а (DeadLetter) и outbox worker'а (Envelope с OutboxDeadLetter).
// ok=false означает, что сообщение не похоже ни на один формат и его нужно пропустить.
func ReplayFromDeadLetter(message *sarama.ConsumerMessage, defaultTopic string, now time.Time) (replay Replay, ok bool, err error) {
	if message == nil {
		return Replay{}, false, nil
	}

	var record DeadLetter
	if err := json.Unmarshal(message.Value, &record); err == nil && record.OriginalValue != "" {
		topic := strings.TrimSpace(record.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		replay := Replay{
			Topic: topic,
			Key:   record.OriginalKey,
			Value: []byte(record.OriginalValue),
		}
		var original Envelope
		if json.Unmarshal(replay.Value, &original) == nil {
			replay.EventType = original.EventType
		}
		return replay, true, nil
	}

	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return Replay{}, false, nil
	}

	var dead OutboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return Replay{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return Replay{}, false, fmt.Errorf("outbox dead letter %s has no event payload", envelope.ID)
	}

	restored := Envelope{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
		PublishedAt:   now.UTC(),
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return Replay{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return Replay{
		Topic:     defaultTopic,
		Key:       firstNonEmpty(restored.AggregateID, restored.ID),
		EventType: restored.EventType,
		Value:     value,
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
