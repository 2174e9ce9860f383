package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты для label result.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultPanic   = "panic"
)

// OrderMetrics содержит метрики жизненного цикла заказа и уведомлений.
type OrderMetrics struct {
	// Счётчики операций
	ordersCreated prometheus.Counter
	ordersUpdated prometheus.Counter
	ordersDeleted prometheus.Counter
	statusChanges *prometheus.CounterVec
	statusNoops   prometheus.Counter

	// Гистограмма времени операций сервиса
	operationDuration *prometheus.HistogramVec

	// Доставка событий подписчикам шины
	eventsDispatched *prometheus.CounterVec

	// Уведомления
	notifications *prometheus.CounterVec
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном registerer; повторная регистрация
// возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_updated_total",
			Help: "Total number of full order updates",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_status_changes_total",
			Help: "Total number of applied order status transitions",
		}, []string{"from", "to"}),
		statusNoops: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_status_noop_total",
			Help: "Total number of status updates that did not change the status",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orders_operation_duration_seconds",
			Help:    "Duration of order service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
		eventsDispatched: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_events_dispatched_total",
			Help: "Domain events delivered to in-process subscribers by result",
		}, []string{"event_type", "subscriber", "result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_notifications_total",
			Help: "Notification emails by kind and result",
		}, []string{"kind", "result"}),
	}
}

// register добавляет коллектор в registerer; при повторной регистрации возвращает уже
// существующий коллектор того же типа, чтобы метрики можно было создавать в нескольких местах.
func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		panic(fmt.Sprintf("register %q: %v", name, err))
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
	}
	return existing
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(registerer, opts.Name, prometheus.NewGauge(opts))
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderUpdated увеличивает счётчик полных обновлений.
func (m *OrderMetrics) RecordOrderUpdated() {
	if m == nil {
		return
	}
	m.ordersUpdated.Inc()
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *OrderMetrics) RecordOrderDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// RecordStatusChange учитывает применённый переход статуса.
func (m *OrderMetrics) RecordStatusChange(from, to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(from, to).Inc()
}

// RecordStatusNoop учитывает запрос смены статуса на тот же самый.
func (m *OrderMetrics) RecordStatusNoop() {
	if m == nil {
		return
	}
	m.statusNoops.Inc()
}

// RecordOperation записывает длительность операции сервиса.
func (m *OrderMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordEventDispatch учитывает доставку события подписчику шины.
func (m *OrderMetrics) RecordEventDispatch(eventType, subscriber, result string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(eventType, subscriber, result).Inc()
}

// RecordNotification учитывает попытку отправки письма.
func (m *OrderMetrics) RecordNotification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}
