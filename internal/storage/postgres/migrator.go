package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockID   = int64(0x6f726472) // "ordr"
	migrationTimeout  = 5 * time.Second
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	// 0001_create_orders.up.sql
	migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState описывает схему относительно встроенных в бинарник миграций.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет не более steps миграций; 0 означает все ожидающие.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает steps последних миграций, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationStatus сообщает текущую версию схемы и сколько миграций ещё не применено.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	for _, version := range applied {
		state.Version = max(state.Version, version)
	}
	state.Pending = len(planUp(migrations, applied, 0))
	return state, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		var plan []migration
		if direction == migrationUp {
			plan = planUp(migrations, applied, steps)
		} else if plan, err = planDown(migrations, applied, steps); err != nil {
			return err
		}

		for _, m := range plan {
			if err := applyMigration(ctx, conn, m, direction); err != nil {
				return err
			}
			s.logger.WithFields(log.Fields{
				"migration": m.String(),
				"direction": direction,
			}).Info("migration applied")
		}
		return nil
	})
}

// withMigrationLock держит advisory lock на выделенном подключении, чтобы параллельные
// экземпляры сервиса не применяли миграции одновременно.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			s.logger.WithError(err).Warn("failed to release migration lock")
		}
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// planUp выбирает неприменённые миграции по возрастанию версии.
func planUp(migrations []migration, applied []int64, steps int) []migration {
	plan := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if slices.Contains(applied, m.Version) {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown выбирает steps последних применённых миграций в обратном порядке.
// Применённая версия, которой нет в бинарнике, откатить нельзя.
func planDown(migrations []migration, applied []int64, steps int) ([]migration, error) {
	desc := slices.Clone(applied)
	slices.SortFunc(desc, func(a, b int64) int { return cmp.Compare(b, a) })
	if steps > 0 && len(desc) > steps {
		desc = desc[:steps]
	}

	plan := make([]migration, 0, len(desc))
	for _, version := range desc {
		i := slices.IndexFunc(migrations, func(m migration) bool { return m.Version == version })
		if i < 0 {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		plan = append(plan, migrations[i])
	}
	return plan, nil
}

func applyMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	body, record, args := m.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
	if direction == migrationDown {
		body, record, args = m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	err := inTx(ctx, conn, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, record, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s migration %s: %w", direction, m, err)
	}
	return nil
}

// queryer: *sql.DB или *sql.Conn.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func appliedVersions(ctx context.Context, q queryer) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// loadMigrationsFromFS собирает пары up/down из sql/migrations и сортирует их по версии.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		if err := addMigrationFile(fsys, entry.Name(), byVersion); err != nil {
			return nil, err
		}
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

func addMigrationFile(fsys fs.FS, fileName string, byVersion map[int64]*migration) error {
	parts := migrationFileName.FindStringSubmatch(fileName)
	if parts == nil {
		return fmt.Errorf("invalid migration file name: %s", fileName)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parse migration version from %s: %w", fileName, err)
	}
	name, direction := parts[2], migrationDirection(parts[3])

	raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, fileName))
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", fileName, err)
	}
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("migration file is empty: %s", fileName)
	}

	m, ok := byVersion[version]
	if !ok {
		m = &migration{Version: version, Name: name}
		byVersion[version] = m
	}
	if m.Name != name {
		return fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
	}

	target := &m.UpSQL
	if direction == migrationDown {
		target = &m.DownSQL
	}
	if *target != "" {
		return fmt.Errorf("duplicate %s migration for version %d", direction, version)
	}
	*target = body
	return nil
}
