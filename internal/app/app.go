// Package app собирает сервис заказов и notification worker из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/orders/internal/events"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/jobs"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/notification"
	"github.com/vladislavdragonenkov/orders/internal/service/httpapi"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/service/retention"
	"github.com/vladislavdragonenkov/orders/internal/validation"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Run поднимает HTTP API, сервер метрик, outbox worker и cron-задачи очистки.
// При memory-транспорте уведомления обрабатываются в этом же процессе.
// Возвращает ctx.Err() после штатной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	transport, err := initTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer transport.close(logger)

	orderMetrics := metrics.NewOrderMetrics()
	bus := events.NewBus(logger.WithField("component", "event-bus"), orderMetrics)
	bus.Subscribe("outbox", events.NewOutboxSubscriber(deps.outbox))

	validator := validation.New()
	service := orders.NewService(deps.orders, validator, bus,
		orders.WithLogger(logger.WithField("component", "order-service")),
		orders.WithMetrics(orderMetrics),
	)
	handler := httpapi.NewHandler(service, validator,
		httpapi.WithLogger(logger.WithField("component", "http-api")),
		httpapi.WithIdempotency(deps.idempotency, cfg.IdempotencyTTL),
	)
	corsOpts := httpapi.DefaultCORSOptions()
	if len(cfg.CORSOrigins) > 0 {
		corsOpts.AllowedOrigins = cfg.CORSOrigins
	}
	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler, corsOpts),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.outbox, cfg.OutboxMaxPendingAge))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMetricsMux(healthHandler),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
	}
	if transport.dlq != nil {
		workerOpts = append(workerOpts, outbox.WithDLQPublisher(transport.dlq))
	}
	worker := outbox.NewWorker(deps.outbox, transport.publisher, workerOpts...)

	cleaner := retention.NewCleaner(
		retention.WithLogger(logger.WithField("component", "retention")),
		retention.WithBatchSize(cfg.CleanupBatchSize),
		retention.WithIdempotencyKeys(deps.idempotency),
		retention.WithSentOutbox(deps.outbox, cfg.OutboxRetention),
	)

	scheduler := jobs.NewScheduler(logger.WithField("component", "scheduler"))
	if err := scheduler.Register("retention-cleanup", cfg.CleanupSchedule, cleaner.Sweep); err != nil {
		return err
	}

	var notifier *notification.Handler
	if transport.queue != nil {
		mailer, err := newMailer(cfg, logger)
		if err != nil {
			return err
		}
		notifier = notification.NewHandler(deps.orders, mailer,
			notification.WithLogger(logger.WithField("component", "notification-handler")),
			notification.WithMetrics(orderMetrics),
		)
	}

	logger.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"transport":    cfg.Transport,
	}).Info("starting order service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(gctx, apiServer, cfg.ShutdownTimeout, logger.WithField("server", "api")) })
	g.Go(func() error {
		return serveHTTP(gctx, metricsServer, cfg.ShutdownTimeout, logger.WithField("server", "metrics"))
	})
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if notifier != nil {
		g.Go(func() error { return transport.queue.Run(gctx, notifier.Handle) })
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("order service stopped")
		return ctx.Err()
	}
	return err
}

// newMetricsMux отдаёт /metrics для Prometheus и пробы для оркестратора.
func newMetricsMux(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// serveHTTP обслуживает srv до отмены ctx и затем аккуратно его останавливает.
// Ошибка прослушивания порта возвращается сразу.
func serveHTTP(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *log.Entry) error {
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	logger.WithField("addr", lis.Addr().String()).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, shutdownTimeout, logger)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
