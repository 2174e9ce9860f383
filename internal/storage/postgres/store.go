// Package postgres хранит заказы, outbox и ключи идемпотентности в PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// poolSettings: параметры пула database/sql.
type poolSettings struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	pingTimeout     time.Duration
	logger          *log.Entry
}

func defaultPoolSettings() poolSettings {
	return poolSettings{
		maxOpenConns:    20,
		maxIdleConns:    10,
		connMaxLifetime: 30 * time.Minute,
		connMaxIdleTime: 5 * time.Minute,
		pingTimeout:     5 * time.Second,
		logger:          log.WithField("component", "postgres"),
	}
}

// Option настраивает Store при открытии.
type Option func(*poolSettings)

// WithMaxOpenConns ограничивает число открытых подключений; простаивающих держим не больше половины.
func WithMaxOpenConns(n int) Option {
	return func(s *poolSettings) {
		if n > 0 {
			s.maxOpenConns = n
			s.maxIdleConns = max(1, n/2)
		}
	}
}

// WithConnMaxLifetime задаёт время жизни подключения.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(s *poolSettings) {
		if d > 0 {
			s.connMaxLifetime = d
		}
	}
}

// WithPingTimeout задаёт таймаут проверки доступности базы.
func WithPingTimeout(d time.Duration) Option {
	return func(s *poolSettings) {
		if d > 0 {
			s.pingTimeout = d
		}
	}
}

// WithLogger задаёт логгер хранилища и мигратора.
func WithLogger(logger *log.Entry) Option {
	return func(s *poolSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store владеет пулом подключений, общим для всех PostgreSQL-репозиториев.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
	logger      *log.Entry
}

// Open открывает пул через драйвер pgx и не возвращается, пока база не ответит на ping.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	settings := defaultPoolSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(settings.maxOpenConns)
	db.SetMaxIdleConns(settings.maxIdleConns)
	db.SetConnMaxLifetime(settings.connMaxLifetime)
	db.SetConnMaxIdleTime(settings.connMaxIdleTime)

	store := &Store{db: db, pingTimeout: settings.pingTimeout, logger: settings.logger}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store.logger.WithField("max_open_conns", settings.maxOpenConns).Debug("postgres pool opened")
	return store, nil
}

// DB отдаёт пул для запросов в обход репозиториев (тесты, служебные утилиты).
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Ping используется health-проверкой хранилища.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// RegisterMetrics публикует статистику пула (orders_* метрики go_sql) в reg.
// Повторная регистрация не считается ошибкой.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	err := reg.Register(collectors.NewDBStatsCollector(s.db, "orders"))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// Close закрывает пул; nil-store закрывать можно.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// txStarter: *sql.DB или выделенное *sql.Conn.
type txStarter interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// inTx выполняет fn в транзакции: commit при nil, иначе rollback.
// Ошибки fn возвращаются без обёртки, чтобы доменные ошибки проходили через errors.Is.
func inTx(ctx context.Context, starter txStarter, fn func(tx *sql.Tx) error) error {
	tx, err := starter.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
