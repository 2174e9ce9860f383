package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfig(t *testing.T) {
	config := producerConfig("orders-test")

	require.NoError(t, config.Validate())
	assert.Equal(t, "orders-test", config.ClientID)
	assert.True(t, config.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, config.Producer.RequiredAcks)
	assert.Equal(t, 1, config.Net.MaxOpenRequests)
	assert.True(t, config.Producer.Return.Successes)
}

func TestProducer_SendEncodesRecord(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)
	sentAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	producer.now = func() time.Time { return sentAt }

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicOrderEvents, msg.Topic)
		assert.Equal(t, sentAt, msg.Timestamp)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "42", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded map[string]int
		require.NoError(t, json.Unmarshal(value, &decoded))
		assert.Equal(t, 42, decoded["order_id"])

		require.Len(t, msg.Headers, 2)
		assert.Equal(t, HeaderErrorMessage, string(msg.Headers[0].Key))
		assert.Equal(t, HeaderEventType, string(msg.Headers[1].Key))
		return nil
	})

	err := producer.Send(context.Background(), Record{
		Topic: TopicOrderEvents,
		Key:   "42",
		Value: map[string]int{"order_id": 42},
		Headers: map[string]string{
			HeaderEventType:    "order.created",
			HeaderErrorMessage: "none",
		},
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_SendErrors(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := producer.Send(context.Background(), Record{Topic: TopicOrderEvents, Key: "1", Value: 1})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	// Ошибки ниже возникают до обращения к брокеру.
	require.Error(t, producer.Send(context.Background(), Record{Topic: TopicOrderEvents, Value: make(chan int)}))
	require.Error(t, producer.Send(context.Background(), Record{Value: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, producer.Send(ctx, Record{Topic: TopicOrderEvents, Value: 1}), context.Canceled)

	require.NoError(t, mockProducer.Close())
}

func TestNewProducerInvalidBroker(t *testing.T) {
	_, err := NewProducer([]string{"invalid-broker:9092"}, "orders-test")
	require.Error(t, err)
}
