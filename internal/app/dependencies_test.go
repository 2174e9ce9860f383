package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/mail"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.orders == nil {
		t.Fatal("orders should not be nil for memory storage")
	}
	if deps.outbox == nil {
		t.Fatal("outbox should not be nil for memory storage")
	}
	if deps.idempotency == nil {
		t.Fatal("idempotency should not be nil for memory storage")
	}
	if deps.storageChecker != nil {
		t.Fatal("memory storage has nothing to ping")
	}
	deps.close(log.WithField("test", "memory-storage"))
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("ORDERS_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres-init"))

	if deps.orders == nil || deps.outbox == nil || deps.idempotency == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker == nil {
		t.Fatal("expected non-nil storage checker for postgres")
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestNewMailer(t *testing.T) {
	t.Parallel()
	logger := log.WithField("test", "mailer")

	mailer, err := newMailer(Config{MailDriver: MailDriverLog}, logger)
	if err != nil {
		t.Fatalf("log mailer: %v", err)
	}
	if _, ok := mailer.(*mail.LogMailer); !ok {
		t.Fatalf("expected *mail.LogMailer, got %T", mailer)
	}

	mailer, err = newMailer(Config{MailDriver: MailDriverSMTP, SMTPHost: "localhost", SMTPPort: 1025}, logger)
	if err != nil {
		t.Fatalf("smtp mailer: %v", err)
	}
	if _, ok := mailer.(*mail.SMTPMailer); !ok {
		t.Fatalf("expected *mail.SMTPMailer, got %T", mailer)
	}

	if _, err := newMailer(Config{MailDriver: "pigeon"}, logger); err == nil {
		t.Fatal("expected error for unsupported mail driver")
	}
}

func TestInitTransport(t *testing.T) {
	t.Parallel()
	logger := log.WithField("test", "transport")

	transport, err := initTransport(Config{Transport: TransportMemory}, logger)
	if err != nil {
		t.Fatalf("memory transport: %v", err)
	}
	if transport.queue == nil || transport.publisher == nil {
		t.Fatal("memory transport must expose the queue as publisher")
	}
	if transport.dlq != nil {
		t.Fatal("memory transport has no dlq")
	}
	transport.close(logger)

	if _, err := initTransport(Config{Transport: "nats"}, logger); err == nil {
		t.Fatal("expected error for unsupported transport")
	}

	if _, err := initTransport(Config{Transport: TransportKafka, KafkaBrokers: []string{"invalid-broker:9092"}}, logger); err == nil {
		t.Fatal("expected error for unreachable kafka brokers")
	}
}
