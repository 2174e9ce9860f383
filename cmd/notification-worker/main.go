package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("notification worker exited with error")
	}
}

// run читает конфигурацию и потребляет события заказов из брокера до отмены ctx.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("notification-worker", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("ORDERS_CONFIG_FILE"), "path to config file (yaml, json or toml)")
	showVersion := flags.Bool("version", false, "print build information and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		_, err := fmt.Fprintln(stdout, version.String())
		return err
	}

	if err := app.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := app.SetupLogger(cfg); err != nil {
		return err
	}

	return app.RunNotifier(ctx, cfg)
}
