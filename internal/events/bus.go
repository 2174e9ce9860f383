// Package events содержит внутрипроцессную шину доменных событий и подписчика,
// который превращает события в сообщения outbox (запись после commit заказа).
package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// Subscriber получает доменные события синхронно, в потоке вызывающего.
type Subscriber interface {
	Handle(ctx context.Context, event domain.Event) error
}

// SubscriberFunc позволяет использовать функцию как Subscriber.
type SubscriberFunc func(ctx context.Context, event domain.Event) error

// Handle вызывает f(ctx, event).
func (f SubscriberFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

type subscription struct {
	name       string
	subscriber Subscriber
}

// Bus вызывает подписчиков в порядке регистрации.
// Ошибка или паника одного подписчика логируется и не мешает остальным и вызывающему.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscription
	logger      *log.Entry
	metrics     *metrics.OrderMetrics
}

// NewBus создаёт пустую шину.
func NewBus(logger *log.Entry, m *metrics.OrderMetrics) *Bus {
	if logger == nil {
		logger = log.New().WithField("component", "event-bus")
	}
	return &Bus{logger: logger, metrics: m}
}

// Subscribe регистрирует подписчика под именем, которое попадает в логи и метрики.
func (b *Bus) Subscribe(name string, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscription{name: name, subscriber: subscriber})
}

// Publish доставляет событие всем подписчикам до возврата и возвращает число неудачных доставок.
func (b *Bus) Publish(ctx context.Context, event domain.Event) int {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers...)
	b.mu.RUnlock()

	failed := 0
	for _, sub := range subs {
		if err := b.dispatch(ctx, sub, event); err != nil {
			failed++
		}
	}
	return failed
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, event domain.Event) (err error) {
	fields := log.Fields{
		"subscriber": sub.name,
		"event_type": event.EventType(),
		"order_id":   event.AggregateID(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", sub.name, r)
			b.logger.WithFields(fields).WithField("stack", string(debug.Stack())).Error("event subscriber panicked")
			b.metrics.RecordEventDispatch(event.EventType(), sub.name, metrics.ResultPanic)
		}
	}()

	if err = sub.subscriber.Handle(ctx, event); err != nil {
		b.logger.WithError(err).WithFields(fields).Error("event subscriber failed")
		b.metrics.RecordEventDispatch(event.EventType(), sub.name, metrics.ResultError)
		return err
	}

	b.metrics.RecordEventDispatch(event.EventType(), sub.name, metrics.ResultSuccess)
	return nil
}
