// Command dlq-reprocess перечитывает DLQ topic и возвращает события заказов в основной topic.
// Без -execute ничего не публикует и только перечисляет кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	replayClientID     = "orders-dlq-reprocess"
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

// offsetReader: часть sarama.Client, нужная для обхода партиций.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
}

// replaySink принимает восстановленные события; *kafka.Producer подходит без адаптера.
type replaySink interface {
	Send(ctx context.Context, rec kafka.Record) error
}

// dryRunSink только пишет кандидатов в лог.
type dryRunSink struct {
	logger *log.Entry
}

func (s dryRunSink) Send(_ context.Context, rec kafka.Record) error {
	s.logger.WithFields(log.Fields{
		"target_topic": rec.Topic,
		"key":          rec.Key,
		"event_type":   rec.Headers[kafka.HeaderEventType],
	}).Info("dlq replay candidate")
	return nil
}

type consumerOpener struct {
	consumer sarama.Consumer
}

func (o consumerOpener) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

// replayDeps: всё, что нужно replayer'у от Kafka, плюс функция освобождения подключений.
type replayDeps struct {
	offsets offsetReader
	opener  partitionOpener
	sink    replaySink
	close   func()
}

var connectKafka = func(opts options) (replayDeps, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = replayClientID
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := replayDeps{
		offsets: client,
		opener:  consumerOpener{consumer: consumer},
		sink:    dryRunSink{logger: log.WithField("component", "dlq-reprocess")},
	}
	closers := []io.Closer{consumer, client}
	if opts.execute {
		producer, err := kafka.NewProducer(opts.brokers, replayClientID)
		if err != nil {
			_ = consumer.Close()
			_ = client.Close()
			return replayDeps{}, err
		}
		deps.sink = producer
		closers = append([]io.Closer{producer}, closers...)
	}
	deps.close = func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := app.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	deps, err := connectKafka(opts)
	if err != nil {
		return err
	}
	if deps.close != nil {
		defer deps.close()
	}

	r := &replayer{
		opts:    opts,
		offsets: deps.offsets,
		opener:  deps.opener,
		sink:    deps.sink,
		logger: log.WithFields(log.Fields{
			"component":    "dlq-reprocess",
			"source_topic": opts.sourceTopic,
			"mode":         opts.mode(),
		}),
		now: time.Now,
	}
	stats, err := r.run(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s: scanned=%d replayed=%d skipped=%d\n", opts.mode(), stats.scanned, stats.replayed, stats.skipped)
	return err
}

// parseOptions берёт брокеры и topics из конфигурации сервиса (файл -config и ORDERS_*),
// флаги имеют приоритет.
func parseOptions(args []string) (options, error) {
	flags := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	var (
		opts       options
		configPath string
		brokers    string
	)
	flags.StringVar(&configPath, "config", "", "path to service config file")
	flags.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default: kafka_brokers from config)")
	flags.StringVar(&opts.sourceTopic, "source-topic", "", "DLQ topic to read (default: kafka_dlq_topic from config)")
	flags.StringVar(&opts.targetTopic, "target-topic", "", "topic to replay into (default: kafka_topic from config)")
	flags.IntVar(&opts.limit, "limit", defaultReplayLimit, "max number of DLQ messages to scan")
	flags.BoolVar(&opts.execute, "execute", false, "publish replayed events instead of listing them")
	flags.BoolVar(&opts.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return options{}, fmt.Errorf("load config: %w", err)
	}
	opts.brokers = cfg.KafkaBrokers
	if brokers != "" {
		opts.brokers = app.SplitList([]string{brokers})
	}
	if opts.sourceTopic == "" {
		opts.sourceTopic = cfg.KafkaDLQTopic
	}
	if opts.targetTopic == "" {
		opts.targetTopic = cfg.KafkaTopic
	}

	return opts, opts.validate()
}

func (o options) validate() error {
	var errs []error
	if len(o.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required"))
	}
	if o.sourceTopic == "" || o.targetTopic == "" {
		errs = append(errs, errors.New("source and target topics are required"))
	}
	if o.sourceTopic != "" && o.sourceTopic == o.targetTopic {
		errs = append(errs, fmt.Errorf("source and target topic must differ, both are %q", o.sourceTopic))
	}
	if o.limit <= 0 {
		errs = append(errs, errors.New("limit must be positive"))
	}
	if o.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be positive"))
	}
	return errors.Join(errs...)
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer обходит партиции DLQ по возрастанию номера, пока не просканирует limit сообщений.
type replayer struct {
	opts    options
	offsets offsetReader
	opener  partitionOpener
	sink    replaySink
	logger  *log.Entry
	now     func() time.Time
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.offsets == nil || r.opener == nil || r.sink == nil {
		return total, errors.New("replayer is not fully configured")
	}

	partitions, err := r.offsets.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.opts.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.drain(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"partitions": len(partitions),
		"scanned":    total.scanned,
		"replayed":   total.replayed,
		"skipped":    total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// drain читает партицию до high watermark на момент старта. Сообщения, пришедшие в DLQ
// позже, остаются на следующий запуск. Если сообщений нет дольше idleTimeout, партиция пропускается.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return stats, err
	}

	pc, err := r.opener.ConsumePartition(r.opts.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Warn("partition idle before reaching high watermark")
			return stats, nil
		case consumerErr, ok := <-pc.Errors():
			if ok && consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)

			stats.scanned++
			replayed, err := r.replay(ctx, msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// window возвращает диапазон offset [start, end) для чтения. С fromNewest читаются
// только последние budget сообщений.
func (r *replayer) window(partition int32, budget int) (start, end int64, err error) {
	start, err = r.offsets.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err = r.offsets.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if r.opts.fromNewest {
		start = max(start, end-int64(budget))
	}
	return start, end, nil
}

// replay возвращает false для сообщений, которые нельзя восстановить; ошибка только от sink.
func (r *replayer) replay(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := kafka.ReplayFromDeadLetter(msg, r.opts.targetTopic, r.now())
	if err != nil {
		logger.WithError(err).Warn("skip malformed dlq message")
		return false, nil
	}
	if !ok {
		logger.Debug("skip unrecognized dlq message")
		return false, nil
	}

	if err := r.sink.Send(ctx, replay.Record()); err != nil {
		return false, fmt.Errorf("replay partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return true, nil
}
