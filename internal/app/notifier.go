package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/notification"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

// RunNotifier читает события заказов из Kafka или RabbitMQ и отправляет письма.
// Заказы перечитываются из общего хранилища, поэтому нужен драйвер postgres.
func RunNotifier(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "notification-worker")
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Transport != TransportKafka && cfg.Transport != TransportRabbitMQ {
		return fmt.Errorf("notification worker requires kafka or rabbitmq transport, got %q", cfg.Transport)
	}
	if cfg.StorageDriver == StorageDriverMemory {
		logger.Warn("in-memory storage is not shared with the order service, every order will be reported as missing")
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}
	handler := notification.NewHandler(deps.orders, mailer,
		notification.WithLogger(logger.WithField("component", "notification-handler")),
		notification.WithMetrics(metrics.NewOrderMetrics()),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMetricsMux(healthHandler),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.WithFields(version.Fields()).WithFields(log.Fields{
		"metrics_addr": cfg.MetricsAddr,
		"transport":    cfg.Transport,
		"mail_driver":  cfg.MailDriver,
	}).Info("starting notification worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, metricsServer, cfg.ShutdownTimeout, logger.WithField("server", "metrics"))
	})
	g.Go(func() error {
		if cfg.Transport == TransportKafka {
			return consumeKafka(gctx, cfg, handler, logger)
		}
		return consumeRabbitMQ(gctx, cfg, handler, logger)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("notification worker stopped")
		return ctx.Err()
	}
	return err
}

// consumeKafka читает topic событий; сообщения, не обработанные за KafkaMaxRetries попыток, уходят в DLQ.
func consumeKafka(ctx context.Context, cfg Config, handler *notification.Handler, logger *log.Entry) error {
	dlqProducer, err := kafka.NewProducer(cfg.KafkaBrokers, consumerTag)
	if err != nil {
		return err
	}
	defer func() {
		if err := dlqProducer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka dlq producer")
		}
	}()

	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		[]string{cfg.KafkaTopic},
		kafka.OutboxHandler(handler.Handle),
		kafka.WithDeadLetter(dlqProducer, cfg.KafkaDLQTopic),
		kafka.WithMaxRetries(cfg.KafkaMaxRetries),
		kafka.WithRetryDelay(cfg.KafkaRetryDelay),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return err
	}
	return consumer.Run(ctx)
}

// consumeRabbitMQ читает очередь уведомлений; отклонённые сообщения уходят в dead-letter очередь.
func consumeRabbitMQ(ctx context.Context, cfg Config, handler *notification.Handler, logger *log.Entry) error {
	client, err := dialRabbitMQ(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close rabbitmq client")
		}
	}()

	if err := rabbitmq.NewConsumer(client, consumerTag).Run(ctx, handler.Handle); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return errors.New("rabbitmq delivery channel closed")
	}
	return nil
}
