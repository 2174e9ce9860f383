package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := rawIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	total := len(migrations)

	require.NoError(t, store.MigrateDown(ctx, 100), "reset schema")

	steps := []struct {
		name string
		run  func() error
		want MigrationState
	}{
		{
			name: "empty schema",
			run:  func() error { return nil },
			want: MigrationState{Version: 0, Applied: 0, Pending: total},
		},
		{
			name: "one step up",
			run:  func() error { return store.MigrateUp(ctx, 1) },
			want: MigrationState{Version: 1, Applied: 1, Pending: total - 1},
		},
		{
			name: "rest up",
			run:  func() error { return store.MigrateUp(ctx, 0) },
			want: MigrationState{Version: int64(total), Applied: total, Pending: 0},
		},
		{
			name: "repeated up is a no-op",
			run:  func() error { return store.MigrateUp(ctx, 0) },
			want: MigrationState{Version: int64(total), Applied: total, Pending: 0},
		},
		{
			name: "zero steps down rolls back one",
			run:  func() error { return store.MigrateDown(ctx, 0) },
			want: MigrationState{Version: int64(total - 1), Applied: total - 1, Pending: 1},
		},
		{
			name: "full rollback",
			run:  func() error { return store.MigrateDown(ctx, 100) },
			want: MigrationState{Version: 0, Applied: 0, Pending: total},
		},
		{
			name: "down on empty schema",
			run:  func() error { return store.MigrateDown(ctx, 1) },
			want: MigrationState{Version: 0, Applied: 0, Pending: total},
		},
	}

	for _, step := range steps {
		require.NoError(t, step.run(), step.name)
		state, err := store.MigrationStatus(ctx)
		require.NoError(t, err, step.name)
		require.Equal(t, step.want, state, step.name)
	}

	// Остальные интеграционные тесты пакета ожидают полную схему.
	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_NilStoreAndUnknownDirection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var nilStore *Store
	require.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := nilStore.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)

	store := &Store{db: &sql.DB{}}
	require.ErrorContains(t, store.migrate(ctx, migrationDirection("sideways"), 0), "unsupported migration direction")
}
