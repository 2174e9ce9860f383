package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

type statsFunc func(ctx context.Context) (domain.OutboxStats, error)

func (f statsFunc) Stats(ctx context.Context) (domain.OutboxStats, error) { return f(ctx) }

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixedChecker Status

func (c fixedChecker) Check(context.Context) Check { return Check{Status: Status(c)} }

func healthy(context.Context) error { return nil }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantCode   int
		wantStatus Status
	}{
		{name: "no checks", wantCode: http.StatusOK, wantStatus: StatusHealthy},
		{
			name:       "all healthy",
			checkers:   map[string]Checker{"storage": CheckFunc(healthy), "outbox": fixedChecker(StatusHealthy)},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "degraded stays 200",
			checkers:   map[string]Checker{"storage": CheckFunc(healthy), "outbox": fixedChecker(StatusDegraded)},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			checkers: map[string]Checker{
				"storage": CheckFunc(func(context.Context) error { return errors.New("connection refused") }),
				"outbox":  fixedChecker(StatusDegraded),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("v1.2.3")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			rec := get(t, handler, "/healthz")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var response Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
			assert.Equal(t, tt.wantStatus, response.Status)
			assert.Equal(t, "v1.2.3", response.Version)
			assert.Len(t, response.Checks, len(tt.checkers))
			for name, check := range response.Checks {
				assert.Equal(t, name, check.Name)
			}
		})
	}
}

func TestHandler_UnhealthyCheckCarriesMessage(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("storage", NewStorageChecker(pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))

	report := handler.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, Check{Name: "storage", Status: StatusUnhealthy, Message: "connection refused"}, withoutDuration(report.Checks["storage"]))
}

func TestHandler_RegisterChecker(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("storage", nil)
	assert.Empty(t, handler.Run(context.Background()).Checks)

	handler.RegisterChecker("storage", fixedChecker(StatusUnhealthy))
	handler.RegisterChecker("storage", fixedChecker(StatusHealthy))
	assert.Equal(t, StatusHealthy, handler.Run(context.Background()).Status, "re-registration replaces the check")
}

func TestHandler_RunAppliesTimeout(t *testing.T) {
	handler := NewHandler("dev")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	done := make(chan Report, 1)
	go func() { done <- handler.Run(context.Background()) }()

	select {
	case report := <-done:
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["slow"].Message)
	case <-time.After(time.Second):
		t.Fatal("health checks ignored the timeout")
	}
}

func TestProbes(t *testing.T) {
	ready := NewHandler("dev")
	ready.RegisterChecker("storage", CheckFunc(healthy))
	ready.RegisterChecker("outbox", fixedChecker(StatusDegraded))

	rec := get(t, http.HandlerFunc(ready.ReadinessHandler), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())

	ready.RegisterChecker("storage", fixedChecker(StatusUnhealthy))
	rec = get(t, http.HandlerFunc(ready.ReadinessHandler), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", rec.Body.String())

	rec = get(t, http.HandlerFunc(LivenessHandler), "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestOutboxChecker(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		stats       domain.OutboxStats
		err         error
		maxAge      time.Duration
		wantStatus  Status
		wantMessage string
	}{
		{name: "empty backlog", maxAge: time.Minute, wantStatus: StatusHealthy},
		{
			name:       "fresh backlog",
			stats:      domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-30 * time.Second)},
			maxAge:     time.Minute,
			wantStatus: StatusHealthy,
		},
		{
			name:        "stale backlog",
			stats:       domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-90*time.Second - 400*time.Millisecond)},
			maxAge:      time.Minute,
			wantStatus:  StatusDegraded,
			wantMessage: "3 pending messages, oldest waits 1m30s",
		},
		{
			name:       "age limit disabled",
			stats:      domain.OutboxStats{PendingCount: 3, OldestPendingAt: now.Add(-time.Hour)},
			wantStatus: StatusHealthy,
		},
		{
			name:        "stats unavailable",
			err:         errors.New("db down"),
			maxAge:      time.Minute,
			wantStatus:  StatusUnhealthy,
			wantMessage: "db down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewOutboxChecker(statsFunc(func(context.Context) (domain.OutboxStats, error) {
				return tt.stats, tt.err
			}), tt.maxAge)
			checker.now = func() time.Time { return now }

			check := checker.Check(context.Background())
			assert.Equal(t, tt.wantStatus, check.Status)
			assert.Equal(t, tt.wantMessage, check.Message)
		})
	}
}

func withoutDuration(check Check) Check {
	check.DurationMs = 0
	return check
}
