package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

var publishedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPublisher(t *testing.T, topic string) (*OutboxTopicPublisher, *mocks.SyncProducer) {
	t.Helper()
	syncProducer := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { require.NoError(t, syncProducer.Close()) })

	publisher := NewOutboxPublisher(NewProducerFromSync(syncProducer), topic)
	publisher.now = func() time.Time { return publishedAt }
	return publisher, syncProducer
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		topic     string
		msg       domain.OutboxMessage
		wantTopic string
		wantKey   string
	}{
		{
			name:  "keyed by order",
			topic: "orders.custom",
			msg: domain.OutboxMessage{
				ID:            "outbox-1",
				AggregateType: domain.AggregateTypeOrder,
				AggregateID:   "123",
				EventType:     domain.EventTypeOrderStatusChanged,
				Payload:       []byte(`{"order_id":123,"old_status":"pending","new_status":"shipped"}`),
			},
			wantTopic: "orders.custom",
			wantKey:   "123",
		},
		{
			name:      "falls back to outbox id and default topic",
			msg:       domain.OutboxMessage{ID: "outbox-2", EventType: domain.EventTypeOrderCreated, Payload: []byte(`{}`)},
			wantTopic: TopicOrderEvents,
			wantKey:   "outbox-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			publisher, syncProducer := newTestPublisher(t, tt.topic)
			syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				if msg.Topic != tt.wantTopic {
					return fmt.Errorf("topic %q", msg.Topic)
				}
				key, err := msg.Key.Encode()
				if err != nil {
					return err
				}
				if string(key) != tt.wantKey {
					return fmt.Errorf("key %q", key)
				}
				if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType || string(msg.Headers[0].Value) != tt.msg.EventType {
					return fmt.Errorf("headers %+v", msg.Headers)
				}

				value, err := msg.Value.Encode()
				if err != nil {
					return err
				}
				var envelope Envelope
				if err := json.Unmarshal(value, &envelope); err != nil {
					return err
				}
				if !envelope.PublishedAt.Equal(publishedAt) {
					return fmt.Errorf("published at %s", envelope.PublishedAt)
				}
				restored := envelope.OutboxMessage()
				if restored.ID != tt.msg.ID || restored.EventType != tt.msg.EventType || string(restored.Payload) != string(tt.msg.Payload) {
					return fmt.Errorf("envelope %+v", envelope)
				}
				return nil
			})

			require.NoError(t, publisher.Publish(context.Background(), tt.msg))
		})
	}
}

func TestOutboxPublisher_Errors(t *testing.T) {
	t.Parallel()

	t.Run("producer failure", func(t *testing.T) {
		t.Parallel()
		publisher, syncProducer := newTestPublisher(t, "")
		syncProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3", EventType: domain.EventTypeOrderCreated})
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	})

	t.Run("cancelled context sends nothing", func(t *testing.T) {
		t.Parallel()
		publisher, _ := newTestPublisher(t, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, publisher.Publish(ctx, domain.OutboxMessage{ID: "outbox-4"}), context.Canceled)
	})

	t.Run("no producer", func(t *testing.T) {
		t.Parallel()
		err := NewOutboxPublisher(nil, "").Publish(context.Background(), domain.OutboxMessage{ID: "outbox-5"})
		assert.ErrorIs(t, err, ErrPublisherNotConfigured)

		var nilPublisher *OutboxTopicPublisher
		assert.ErrorIs(t, nilPublisher.Publish(context.Background(), domain.OutboxMessage{}), ErrPublisherNotConfigured)
	})
}

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	_, err := DecodeEnvelope(&sarama.ConsumerMessage{Value: []byte(`{"id":"x"}`)})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = DecodeEnvelope(&sarama.ConsumerMessage{Value: []byte(`not json`)})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = DecodeEnvelope(nil)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	envelope := NewEnvelope(domain.OutboxMessage{ID: "m", AggregateID: "5", EventType: domain.EventTypeOrderCreated}, time.Unix(0, 0))
	assert.JSONEq(t, "null", string(envelope.Payload), "empty payload encodes as null")
}
