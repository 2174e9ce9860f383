package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestReplayFromConsumerDeadLetter(t *testing.T) {
	original := NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "42",
		EventType:     "order.created",
		Payload:       []byte(`{"order_id":42}`),
	}, time.Unix(0, 0))
	originalValue, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	record, err := json.Marshal(DeadLetter{
		OriginalTopic: "orders.events",
		OriginalKey:   "42",
		OriginalValue: string(originalValue),
		ErrorMessage:  "smtp unavailable",
		RetryCount:    3,
	})
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}

	replay, ok, err := ReplayFromDeadLetter(&sarama.ConsumerMessage{Value: record}, "fallback", time.Now())
	if err != nil || !ok {
		t.Fatalf("expected replay, got ok=%v err=%v", ok, err)
	}
	if replay.Topic != "orders.events" || replay.Key != "42" {
		t.Fatalf("unexpected target %s/%s", replay.Topic, replay.Key)
	}
	if replay.EventType != "order.created" {
		t.Fatalf("expected event type from original envelope, got %q", replay.EventType)
	}
	if string(replay.Value) != string(originalValue) {
		t.Fatalf("original value was not preserved: %s", replay.Value)
	}
}

func TestReplayFromConsumerDeadLetterUsesDefaultTopic(t *testing.T) {
	record := []byte(`{"original_key":"7","original_value":"not-json"}`)

	replay, ok, err := ReplayFromDeadLetter(&sarama.ConsumerMessage{Value: record}, "orders.events", time.Now())
	if err != nil || !ok {
		t.Fatalf("expected replay, got ok=%v err=%v", ok, err)
	}
	if replay.Topic != "orders.events" {
		t.Fatalf("expected default topic, got %q", replay.Topic)
	}
	if replay.EventType != "" {
		t.Fatalf("expected empty event type for opaque value, got %q", replay.EventType)
	}
}

func TestReplayFromOutboxDeadLetter(t *testing.T) {
	dead, err := json.Marshal(OutboxDeadLetter{
		OutboxID:      "outbox-9",
		AggregateType: "order",
		AggregateID:   "9",
		EventType:     "order.status_changed",
		Payload:       json.RawMessage(`{"order_id":9,"new_status":"shipped"}`),
		PublishError:  "broker down",
	})
	if err != nil {
		t.Fatalf("marshal outbox dead letter: %v", err)
	}
	envelope, err := json.Marshal(Envelope{ID: "outbox-9", EventType: "order.status_changed", Payload: dead})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	replay, ok, err := ReplayFromDeadLetter(&sarama.ConsumerMessage{Value: envelope}, "orders.events", now)
	if err != nil || !ok {
		t.Fatalf("expected replay, got ok=%v err=%v", ok, err)
	}
	if replay.Topic != "orders.events" || replay.Key != "9" {
		t.Fatalf("unexpected target %s/%s", replay.Topic, replay.Key)
	}

	var restored Envelope
	if err := json.Unmarshal(replay.Value, &restored); err != nil {
		t.Fatalf("decode restored envelope: %v", err)
	}
	if restored.EventType != "order.status_changed" || restored.AggregateID != "9" {
		t.Fatalf("unexpected restored envelope: %+v", restored)
	}
	if string(restored.Payload) != `{"order_id":9,"new_status":"shipped"}` {
		t.Fatalf("unexpected restored payload: %s", restored.Payload)
	}
	if !restored.PublishedAt.Equal(now) {
		t.Fatalf("expected published_at %v, got %v", now, restored.PublishedAt)
	}

	rec := replay.Record()
	if rec.Headers[HeaderEventType] != "order.status_changed" {
		t.Fatalf("unexpected headers: %+v", rec.Headers)
	}
}

func TestReplayFromDeadLetterSkipsUnknownFormat(t *testing.T) {
	for _, value := range []string{"plain text", `{"foo":"bar"}`, ""} {
		_, ok, err := ReplayFromDeadLetter(&sarama.ConsumerMessage{Value: []byte(value)}, "orders.events", time.Now())
		if err != nil || ok {
			t.Fatalf("value %q: expected skip, got ok=%v err=%v", value, ok, err)
		}
	}

	if _, ok, err := ReplayFromDeadLetter(nil, "orders.events", time.Now()); err != nil || ok {
		t.Fatalf("nil message: expected skip, got ok=%v err=%v", ok, err)
	}
}

func TestReplayFromOutboxDeadLetterWithoutPayload(t *testing.T) {
	envelope := []byte(`{"id":"outbox-1","payload":{"outbox_id":"outbox-1","publish_error":"boom"}}`)

	_, ok, err := ReplayFromDeadLetter(&sarama.ConsumerMessage{Value: envelope}, "orders.events", time.Now())
	if err == nil || ok {
		t.Fatalf("expected error, got ok=%v err=%v", ok, err)
	}
	if !strings.Contains(err.Error(), "no event payload") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReplayRecordKeepsRawValue(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		if string(value) != "not json" {
			return fmt.Errorf("value was re-encoded: %q", value)
		}
		return nil
	})

	rec := Replay{Topic: "orders.events", Key: "1", Value: []byte("not json")}.Record()
	if len(rec.Headers) != 0 {
		t.Fatalf("expected no headers, got %+v", rec.Headers)
	}
	if err := NewProducerFromSync(mockProducer).Send(context.Background(), rec); err != nil {
		t.Fatalf("send replay: %v", err)
	}
}
