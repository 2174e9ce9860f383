// Package outbox переносит сообщения из outbox во внешний транспорт.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

type config struct {
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker. Неположительные значения оставляют значение по умолчанию.
type Option func(*config)

func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

// WithMetrics подменяет метрики, например на созданные в отдельном registry.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithDLQPublisher включает перенос сообщений в DLQ после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *config) { c.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации в одном цикле.
func WithMaxAttempts(attempts int) Option {
	return func(c *config) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт паузу после первой неудачи; дальше она удваивается до maxRetryDelay.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *config) { c.retryBaseDelay = max(delay, 0) }
}

// Worker публикует pending-сообщения из outbox в порядке постановки.
// Если сообщение заказа не ушло, остальные сообщения того же заказа ждут следующего цикла,
// чтобы подписчики не увидели события не по порядку.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       config
	now       func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	cfg := config{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewOutboxMetrics()
	}

	return &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run опрашивает outbox каждые pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return nil
	}

	w.cfg.logger.WithFields(log.Fields{
		"poll_interval": w.cfg.pollInterval,
		"batch_size":    w.cfg.batchSize,
		"dlq":           w.cfg.dlq != nil,
	}).Info("outbox worker started")

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			w.cfg.logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// outcome: судьба сообщения после одного цикла.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeDeadLettered
	outcomeBlocked // осталось pending, сообщения того же заказа ждут
	outcomeAborted // ctx отменён
)

// ProcessOnce выполняет один цикл опроса и возвращает число опубликованных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	blocked := make(map[string]bool)
	for _, msg := range batch {
		if ctx.Err() != nil {
			return sent
		}
		if blocked[msg.AggregateID] {
			w.cfg.metrics.RecordAttempt(metrics.OutboxDeferred)
			continue
		}

		switch w.deliver(ctx, msg) {
		case outcomeSent:
			sent++
		case outcomeBlocked:
			blocked[msg.AggregateID] = true
		case outcomeAborted:
			return sent
		}
	}
	return sent
}

// deliver публикует msg с повторами, а после исчерпания попыток переносит его в DLQ.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) outcome {
	logger := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	publishErr := w.publishWithRetry(ctx, msg)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox as sent")
		}
		return outcomeSent
	}
	if ctx.Err() != nil {
		// Сообщение остаётся pending и уйдёт после перезапуска.
		return outcomeAborted
	}

	logger.WithError(publishErr).Error("outbox publish failed after retries")
	w.cfg.metrics.RecordAttempt(metrics.OutboxFailed)

	if err := w.deadLetter(ctx, msg, publishErr); err != nil {
		logger.WithError(err).Warn("failed to publish to DLQ")
		w.cfg.metrics.RecordAttempt(metrics.OutboxDLQFailed)
		return outcomeBlocked
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox as failed")
	}
	return outcomeDeadLettered
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := range w.cfg.maxAttempts {
		if attempt > 0 {
			if err := sleep(ctx, w.retryBackoff(attempt)); err != nil {
				return err
			}
		}

		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil {
			w.cfg.metrics.RecordAttempt(metrics.OutboxSent)
			return nil
		}
		w.cfg.metrics.RecordAttempt(metrics.OutboxRetry)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.cfg.maxAttempts, lastErr)
}

// retryBackoff: пауза перед повтором номер retry (1, 2, ...): base, 2*base, 4*base, не больше maxRetryDelay.
func (w *Worker) retryBackoff(retry int) time.Duration {
	if w.cfg.retryBaseDelay <= 0 || retry <= 0 {
		return 0
	}
	delay := w.cfg.retryBaseDelay
	for range retry - 1 {
		if delay >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// deadLetter отправляет в DLQ описание неопубликованного события.
// Без настроенного DLQ сообщение сразу помечается failed.
func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, publishErr error) error {
	if w.cfg.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(domain.NewOutboxDeadLetter(msg, publishErr, w.now()))
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}
	dead := msg
	dead.Payload = payload
	if err := w.cfg.dlq.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	w.cfg.metrics.RecordAttempt(metrics.OutboxDeadLetter)
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.cfg.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
