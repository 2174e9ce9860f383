package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// SetupLogger настраивает уровень и формат глобального логгера.
func SetupLogger(cfg Config) error {
	level := log.InfoLevel
	if raw := strings.TrimSpace(cfg.LogLevel); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	log.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// LoadDotEnv подгружает переменные из .env-файлов, если они есть.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}
