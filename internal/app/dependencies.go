package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/mail"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

// runtimeDependencies: репозитории выбранного хранилища.
type runtimeDependencies struct {
	orders         domain.OrderRepository
	outbox         domain.OutboxRepository
	idempotency    domain.IdempotencyRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			orders:      memory.NewOrderRepository(),
			outbox:      memory.NewOutboxRepository(),
			idempotency: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres_dsn is required for postgres storage")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger.WithField("component", "postgres")))
		if err != nil {
			return nil, err
		}
		if err := store.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.WithError(err).Warn("failed to register postgres pool metrics")
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			orders:         postgres.NewOrderRepository(store),
			outbox:         postgres.NewOutboxRepository(store),
			idempotency:    postgres.NewIdempotencyRepository(store),
			storageChecker: healthcheck.NewStorageChecker(store),
			closeFn:        store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.Info("storage closed")
}

// newMailer выбирает способ отправки писем.
func newMailer(cfg Config, logger *log.Entry) (domain.Mailer, error) {
	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, err
	}

	switch cfg.MailDriver {
	case MailDriverSMTP:
		mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}, renderer)
		if err != nil {
			return nil, err
		}
		logger.WithField("smtp_host", cfg.SMTPHost).Info("using smtp mailer")
		return mailer, nil
	case MailDriverLog, "":
		logger.Info("using log mailer")
		return mail.NewLogMailer(renderer, logger.WithField("component", "log-mailer")), nil
	default:
		return nil, fmt.Errorf("unsupported mail driver %q", cfg.MailDriver)
	}
}
