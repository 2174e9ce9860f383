package metrics

import "github.com/prometheus/client_golang/prometheus"

// CleanupMetrics считает проходы очистки и удалённые записи по целям.
type CleanupMetrics struct {
	runs    *prometheus.CounterVec
	deleted *prometheus.CounterVec
}

func NewCleanupMetrics() *CleanupMetrics {
	return NewCleanupMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewCleanupMetricsWithRegisterer(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_cleanup_runs_total",
			Help: "Cleanup runs by target and result",
		}, []string{"target", "result"}),
		deleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_cleanup_deleted_total",
			Help: "Records deleted by cleanup, by target",
		}, []string{"target"}),
	}
}

// RecordRun учитывает проход по target; err != nil означает result="error".
func (m *CleanupMetrics) RecordRun(target string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(target, result).Inc()
}

func (m *CleanupMetrics) RecordDeleted(target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.WithLabelValues(target).Add(float64(n))
}
