// Package health отдаёт liveness/readiness пробы и сводку по проверкам компонентов.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// Status: состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check: результат одной проверки. Name и DurationMs заполняет Handler.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Checker проверяет один компонент и должен уважать отмену ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Report: результаты всех проверок и худший из их статусов.
type Report struct {
	Status Status
	Checks map[string]Check
}

// Response: тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Handler хранит зарегистрированные проверки и отдаёт их по HTTP.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	timeout  time.Duration
	started  time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		timeout:  defaultCheckTimeout,
		started:  time.Now(),
	}
}

// RegisterChecker добавляет проверку под именем name; nil игнорируется, повторное имя заменяет проверку.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	if checker == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Run выполняет проверки параллельно с общим таймаутом.
func (h *Handler) Run(ctx context.Context) Report {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := slices.Sorted(maps.Keys(checkers))
	results := make([]Check, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			start := time.Now()
			check := checkers[name].Check(ctx)
			check.Name = name
			check.DurationMs = time.Since(start).Milliseconds()
			results[i] = check
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusHealthy, Checks: make(map[string]Check, len(results))}
	for _, check := range results {
		report.Checks[check.Name] = check
		if check.Status.severity() > report.Status.severity() {
			report.Status = check.Status
		}
	}
	return report
}

// ServeHTTP отдаёт JSON-сводку: 503 только для unhealthy, degraded остаётся 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(report.Status))
	_ = json.NewEncoder(w).Encode(Response{
		Status:        report.Status,
		Timestamp:     time.Now().UTC(),
		Checks:        report.Checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

// ReadinessHandler: 200 "ready", пока ни одна проверка не unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.Run(r.Context()).Status
	w.WriteHeader(httpStatus(status))
	if status == StatusUnhealthy {
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// CheckFunc: проверка, для которой важен только факт ошибки.
type CheckFunc func(ctx context.Context) error

// Check: ошибка означает unhealthy с текстом ошибки.
func (f CheckFunc) Check(ctx context.Context) Check {
	if err := f(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Status: StatusHealthy}
}

// Pinger: хранилище, умеющее проверить подключение.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStorageChecker проверяет доступность хранилища через Ping.
func NewStorageChecker(pinger Pinger) Checker {
	return CheckFunc(pinger.Ping)
}

// OutboxStatsReader отдаёт статистику outbox.
type OutboxStatsReader interface {
	Stats(ctx context.Context) (domain.OutboxStats, error)
}

// OutboxChecker помечает сервис degraded, когда старейшее неотправленное сообщение ждёт дольше maxAge.
// Недоступная статистика означает unhealthy.
type OutboxChecker struct {
	stats  OutboxStatsReader
	maxAge time.Duration
	now    func() time.Time
}

func NewOutboxChecker(stats OutboxStatsReader, maxAge time.Duration) *OutboxChecker {
	return &OutboxChecker{stats: stats, maxAge: maxAge, now: time.Now}
}

func (c *OutboxChecker) Check(ctx context.Context) Check {
	stats, err := c.stats.Stats(ctx)
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	if stats.PendingCount == 0 || c.maxAge <= 0 {
		return Check{Status: StatusHealthy}
	}

	age := c.now().Sub(stats.OldestPendingAt)
	if age <= c.maxAge {
		return Check{Status: StatusHealthy}
	}
	return Check{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d pending messages, oldest waits %s", stats.PendingCount, age.Truncate(time.Second)),
	}
}
