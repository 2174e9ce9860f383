package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

func TestMetricsMux_Endpoints(t *testing.T) {
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	srv := httptest.NewServer(newMetricsMux(healthHandler))
	defer srv.Close()

	testCases := []struct {
		path string
		body string
	}{
		{path: "/metrics", body: "go_goroutines"},
		{path: "/healthz", body: `"status":"healthy"`},
		{path: "/livez", body: "ok"},
		{path: "/readyz", body: "ready"},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatalf("failed to get %s: %v", tc.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected status 200 for %s, got %d", tc.path, resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tc.body) {
				t.Fatalf("expected %q in %s response, got %q", tc.body, tc.path, string(body))
			}
		})
	}
}

func TestMetricsMux_ReadyzReportsFailingStorage(t *testing.T) {
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.CheckFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))
	srv := httptest.NewServer(newMetricsMux(healthHandler))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("failed to get /readyz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.StatusCode)
	}
}

func TestServeHTTP_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() {
		done <- serveHTTP(ctx, srv, time.Second, log.WithField("test", "http-shutdown"))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serveHTTP did not stop after cancel")
	}
}

func TestServeHTTP_ListenError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer lis.Close()

	srv := &http.Server{Addr: lis.Addr().String(), Handler: http.NotFoundHandler()}
	err = serveHTTP(context.Background(), srv, time.Second, log.WithField("test", "http-busy"))
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestShutdownHTTP_Nil(t *testing.T) {
	shutdownHTTP(nil, 0, log.WithField("test", "nil"))
}
