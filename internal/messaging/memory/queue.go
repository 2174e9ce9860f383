// Package memory: внутрипроцессный транспорт outbox-сообщений для локального запуска и тестов.
package memory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const defaultCapacity = 1024

// ErrQueueFull: буфер переполнен; outbox worker повторит публикацию.
var ErrQueueFull = errors.New("in-memory queue is full")

// Handler обрабатывает outbox-сообщение.
type Handler func(ctx context.Context, msg domain.OutboxMessage) error

// Queue: буферизированный канал между outbox worker и обработчиком уведомлений.
type Queue struct {
	messages chan domain.OutboxMessage
	logger   *log.Entry
}

// NewQueue создаёт очередь заданной ёмкости.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		messages: make(chan domain.OutboxMessage, capacity),
		logger:   log.WithField("component", "memory-queue"),
	}
}

// Publish кладёт сообщение в буфер без блокировки.
func (q *Queue) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.messages <- msg:
		return nil
	default:
		return fmt.Errorf("%w: capacity %d", ErrQueueFull, cap(q.messages))
	}
}

// Len возвращает число сообщений в буфере.
func (q *Queue) Len() int {
	return len(q.messages)
}

// Run доставляет сообщения обработчику по одному до отмены ctx.
// Ошибка обработчика логируется, сообщение отбрасывается.
func (q *Queue) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-q.messages:
			if err := handle(ctx, msg); err != nil {
				q.logger.WithError(err).WithFields(log.Fields{
					"message_id":   msg.ID,
					"event_type":   msg.EventType,
					"aggregate_id": msg.AggregateID,
				}).Error("failed to handle message")
			}
		}
	}
}

var _ domain.OutboxPublisher = (*Queue)(nil)
