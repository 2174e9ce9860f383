package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "ORDERS_POSTGRES_DSN"
)

func main() {
	if err := app.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env")
	}
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
}

// run выполняет команду up|down|status. Команда передаётся первым аргументом после флагов.
func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	steps := flags.Int("steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	dsn := flags.String("dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	command := "up"
	if flags.NArg() > 0 {
		command = strings.ToLower(strings.TrimSpace(flags.Arg(0)))
	}
	switch command {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unsupported command %q (use up|down|status)", command)
	}

	if strings.TrimSpace(*dsn) == "" {
		*dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if *dsn == "" {
		return fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, *dsn,
		postgres.WithMaxOpenConns(2),
		postgres.WithLogger(log.WithField("component", "migrate")),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	switch command {
	case "up":
		err = store.MigrateUp(ctx, *steps)
	case "down":
		err = store.MigrateDown(ctx, *steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s ok: version=%d applied=%d pending=%d\n", command, state.Version, state.Applied, state.Pending)
	return err
}
