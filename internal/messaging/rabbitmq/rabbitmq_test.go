package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     map[string]amqp.Table
	bindings   map[string]string
	published  []published
	publishErr error
	deliveries chan amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		queues:     make(map[string]amqp.Table),
		bindings:   make(map[string]string),
		deliveries: make(chan amqp.Delivery, 8),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp.Table) error {
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, _, exchange string, _ bool, _ amqp.Table) error {
	f.bindings[name] = exchange
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		return errors.New("requeue is not expected")
	}
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

func TestDeclareTopology(t *testing.T) {
	channel := newFakeChannel()
	client := NewClient(channel, Topology{})

	require.NoError(t, client.DeclareTopology())
	require.ElementsMatch(t, []string{DefaultExchange, DefaultExchange + ".dlx"}, channel.exchanges)
	require.Equal(t, DefaultExchange+".dlx", channel.queues[DefaultQueue]["x-dead-letter-exchange"])
	require.Equal(t, DefaultExchange, channel.bindings[DefaultQueue])
	require.Equal(t, DefaultExchange+".dlx", channel.bindings[DefaultDeadLetterQueue])
}

func TestPublisherPublish(t *testing.T) {
	channel := newFakeChannel()
	publisher := NewPublisher(NewClient(channel, Topology{Exchange: "shop.events"}))

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "m-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "42",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"order_id":42}`),
	})
	require.NoError(t, err)
	require.Len(t, channel.published, 1)

	got := channel.published[0]
	require.Equal(t, "shop.events", got.exchange)
	require.Equal(t, domain.EventTypeOrderCreated, got.key)
	require.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	require.Equal(t, "42", got.msg.Headers[HeaderAggregateID])
	require.JSONEq(t, `{"order_id":42}`, string(got.msg.Body))
}

func TestPublisherPublishError(t *testing.T) {
	channel := newFakeChannel()
	channel.publishErr = amqp.ErrClosed
	publisher := NewPublisher(NewClient(channel, Topology{}))

	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "m-2", EventType: domain.EventTypeOrderCreated})
	require.ErrorIs(t, err, amqp.ErrClosed)

	var nilPublisher *Publisher
	require.Error(t, nilPublisher.Publish(context.Background(), domain.OutboxMessage{}))
}

func TestConsumerAcksAndDeadLetters(t *testing.T) {
	channel := newFakeChannel()
	acker := &fakeAcknowledger{}
	consumer := NewConsumer(NewClient(channel, Topology{}), "test")

	channel.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		MessageId:    "ok",
		Type:         domain.EventTypeOrderCreated,
		Headers:      amqp.Table{HeaderAggregateID: "1", HeaderAggregateType: domain.AggregateTypeOrder},
		Body:         []byte(`{"order_id":1}`),
	}
	channel.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  2,
		MessageId:    "bad",
		RoutingKey:   domain.EventTypeOrderStatusChanged,
		Body:         []byte(`{}`),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []domain.OutboxMessage
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx, func(_ context.Context, msg domain.OutboxMessage) error {
			mu.Lock()
			handled = append(handled, msg)
			mu.Unlock()
			if msg.ID == "bad" {
				return errors.New("smtp unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		acked, nacked := acker.counts()
		return acked == 1 && nacked == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 2)
	require.Equal(t, "1", handled[0].AggregateID)
	require.Equal(t, domain.EventTypeOrderStatusChanged, handled[1].EventType, "routing key is the fallback event type")
}

func TestClientClose(t *testing.T) {
	channel := newFakeChannel()
	client := NewClient(channel, Topology{})
	require.NoError(t, client.Close())
	require.True(t, channel.closed)
}
