// Package retention удаляет устаревшие служебные записи: просроченные ключи идемпотентности
// и давно отправленные сообщения outbox.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const (
	defaultBatchSize     = 500
	defaultSentRetention = 7 * 24 * time.Hour

	TargetIdempotencyKeys = "idempotency_keys"
	TargetSentOutbox      = "outbox_sent"
)

// PurgeFunc удаляет до limit записей, устаревших к моменту before, и возвращает их число.
type PurgeFunc func(ctx context.Context, before time.Time, limit int) (int, error)

type target struct {
	name  string
	age   time.Duration
	purge PurgeFunc
}

// Cleaner удаляет устаревшие записи порциями. Запускается планировщиком через Sweep.
type Cleaner struct {
	targets   []target
	logger    *log.Entry
	batchSize int
	now       func() time.Time
	metrics   *metrics.CleanupMetrics
}

type Option func(*Cleaner)

func WithLogger(logger *log.Entry) Option {
	return func(c *Cleaner) { c.logger = logger }
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом.
func WithBatchSize(size int) Option {
	return func(c *Cleaner) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// WithMetrics подменяет метрики, например на созданные в отдельном registry.
func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(c *Cleaner) { c.metrics = m }
}

// WithIdempotencyKeys чистит ключи с истёкшим TTL; nil repo пропускается.
func WithIdempotencyKeys(repo domain.IdempotencyRepository) Option {
	return func(c *Cleaner) {
		if repo != nil {
			c.track(TargetIdempotencyKeys, 0, repo.DeleteExpired)
		}
	}
}

// WithSentOutbox чистит отправленные сообщения старше retention (по умолчанию неделя).
func WithSentOutbox(repo domain.OutboxRepository, retention time.Duration) Option {
	return func(c *Cleaner) {
		if repo == nil {
			return
		}
		if retention <= 0 {
			retention = defaultSentRetention
		}
		c.track(TargetSentOutbox, retention, repo.PurgeSent)
	}
}

func NewCleaner(opts ...Option) *Cleaner {
	c := &Cleaner{
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "retention")
	}
	if c.metrics == nil {
		c.metrics = metrics.NewCleanupMetrics()
	}
	return c
}

// track добавляет цель: записи старше age удаляются через purge.
func (c *Cleaner) track(name string, age time.Duration, purge PurgeFunc) {
	c.targets = append(c.targets, target{name: name, age: age, purge: purge})
}

// Sweep проходит по всем целям. Ошибка одной цели не мешает остальным, отмена ctx прерывает проход.
func (c *Cleaner) Sweep(ctx context.Context) error {
	now := c.now()

	var errs []error
	for _, t := range c.targets {
		deleted, err := c.drain(ctx, t, now.Add(-t.age))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.metrics.RecordRun(t.name, err)
		if err != nil {
			c.logger.WithError(err).WithField("target", t.name).Warn("cleanup failed")
			errs = append(errs, fmt.Errorf("cleanup %s: %w", t.name, err))
			continue
		}

		if deleted > 0 {
			c.logger.WithFields(log.Fields{"target": t.name, "deleted": deleted}).Info("cleanup completed")
		}
	}
	return errors.Join(errs...)
}

// drain вызывает purge, пока он возвращает полные порции.
func (c *Cleaner) drain(ctx context.Context, t target, before time.Time) (int, error) {
	total := 0
	for ctx.Err() == nil {
		deleted, err := t.purge(ctx, before, c.batchSize)
		total += deleted
		c.metrics.RecordDeleted(t.name, deleted)
		if err != nil {
			return total, err
		}
		if deleted < c.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
