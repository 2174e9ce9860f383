package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты публикации outbox-сообщения для label result.
const (
	OutboxSent       = "sent"
	OutboxRetry      = "retry_error"
	OutboxFailed     = "failed"
	OutboxDeferred   = "deferred"
	OutboxDLQFailed  = "dlq_failed"
	OutboxDeadLetter = "dead_lettered"
)

// OutboxMetrics описывает работу outbox worker и размер очереди.
type OutboxMetrics struct {
	attempts         *prometheus.CounterVec
	pending          prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics создаёт метрики в DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by result",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_outbox_pending_records",
			Help: "Pending records in the outbox",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record in seconds",
		}),
	}
}

// RecordAttempt учитывает исход попытки публикации.
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер очереди и возраст самого старого pending-сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldestPendingAt, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldestPendingAt.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	m.oldestPendingAge.Set(max(0, now.Sub(oldestPendingAt).Seconds()))
}
