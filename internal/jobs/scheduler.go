// Package jobs запускает периодические фоновые задачи по cron-расписанию.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Job: одна периодическая задача.
type Job func(ctx context.Context) error

// Scheduler оборачивает cron: паника задачи перехватывается,
// а новый запуск пропускается, пока предыдущий не завершился.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Entry
	ctx    context.Context
	jobs   int
}

// NewScheduler создаёт планировщик в UTC.
func NewScheduler(logger *log.Entry) *Scheduler {
	if logger == nil {
		logger = log.WithField("component", "scheduler")
	}
	adapter := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Register добавляет задачу. schedule: стандартное cron-выражение или дескриптор вида "@every 10m".
func (s *Scheduler) Register(name, schedule string, job Job) error {
	logger := s.logger.WithField("job", name)
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			logger.WithError(err).Warn("scheduled job failed")
			return
		}
		logger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("scheduled job completed")
	})
	if err != nil {
		return fmt.Errorf("register job %s with schedule %q: %w", name, schedule, err)
	}
	s.jobs++
	return nil
}

// Run запускает планировщик и блокируется до отмены ctx; выполняющиеся задачи дожидаются.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.jobs == 0 {
		s.logger.Info("no scheduled jobs registered")
		<-ctx.Done()
		return nil
	}

	s.ctx = ctx
	s.cron.Start()
	s.logger.WithField("jobs", s.jobs).Info("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger направляет служебные сообщения cron в logrus.
type cronLogger struct {
	logger *log.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []any) log.Fields {
	result := make(log.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		result[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return result
}
