package domain

import (
	"context"
	"encoding/json"
	"time"
)

// OutboxPublisher публикует сообщения из outbox во внешний транспорт.
type OutboxPublisher interface {
	// Publish передаёт сообщение наружу; повторная публикация должна быть безопасной.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять сообщения для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает неотправленные сообщения в порядке постановки.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// PurgeSent удаляет отправленные сообщения старше before.
	PurgeSent(ctx context.Context, before time.Time, limit int) (int, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release освобождает ключ, чтобы клиент мог повторить запрос после сбоя сервера.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Mailer отправляет письма по заказу. Результат ядро не анализирует, кроме ошибки транспорта.
type Mailer interface {
	SendWelcomeEmail(ctx context.Context, order Order) error
	SendShippingEmail(ctx context.Context, order Order) error
	SendThankYouEmail(ctx context.Context, order Order) error
}

// OutboxStatus: состояние сообщения в outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxDeadLetter: запись о событии, которое не удалось опубликовать; уходит в DLQ
// вместо payload исходного сообщения и позволяет переотправить событие.
type OutboxDeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DeadLetteredAt time.Time       `json:"dlq_published_at"`
}

// NewOutboxDeadLetter описывает msg, публикация которого закончилась ошибкой publishErr.
func NewOutboxDeadLetter(msg OutboxMessage, publishErr error, now time.Time) OutboxDeadLetter {
	dead := OutboxDeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		DeadLetteredAt: now.UTC(),
	}
	if publishErr != nil {
		dead.PublishError = publishErr.Error()
	}
	return dead
}

// OutboxStats описывает текущее состояние backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
