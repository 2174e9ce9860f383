// Command loadtest нагружает HTTP API заказов сценариями создания и смены статусов
// и печатает сводку по задержкам и ошибкам.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const itemQuantity = int32(1)

type loadMode string

const (
	// modeCreate только создаёт заказы.
	modeCreate loadMode = "create"
	// modeLifecycle проводит заказ через processing, shipped и delivered.
	modeLifecycle loadMode = "lifecycle"
	// modeCreateCancel создаёт и сразу отменяет заказ.
	modeCreateCancel loadMode = "create-cancel"
)

type options struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productName string
	price       float64
	customerTag string
	outputPath  string
}

// limit: сколько сценариев запустить; 0 означает "пока не истечёт duration".
func (o options) limit() int {
	if o.duration > 0 && !o.totalSet {
		return 0
	}
	return o.total
}

func (o options) target() string {
	switch {
	case o.duration <= 0:
		return fmt.Sprintf("count:%d", o.total)
	case o.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", o.duration, o.total)
	default:
		return fmt.Sprintf("duration:%s", o.duration)
	}
}

// steps: смены статуса после создания заказа с номером index.
// В lifecycle каждый index%100 < cancelRate заказ отменяется после processing.
func (o options) steps(index int) []domain.OrderStatus {
	switch o.mode {
	case modeCreateCancel:
		return []domain.OrderStatus{domain.OrderStatusCancelled}
	case modeLifecycle:
		if index%100 < o.cancelRate {
			return []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusCancelled}
		}
		return []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered}
	default:
		return nil
	}
}

func (o options) validate() error {
	var errs []error
	if o.baseURL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	switch {
	case o.duration < 0:
		errs = append(errs, errors.New("duration must not be negative"))
	case o.duration == 0 && o.total <= 0:
		errs = append(errs, errors.New("total must be positive without duration"))
	case o.totalSet && o.total <= 0:
		errs = append(errs, errors.New("total must be positive when set together with duration"))
	}
	if o.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if o.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if o.price <= 0 {
		errs = append(errs, errors.New("price must be positive"))
	}
	if o.cancelRate < 0 || o.cancelRate > 100 {
		errs = append(errs, errors.New("cancel-rate must be within 0..100"))
	}
	if strings.TrimSpace(o.productName) == "" {
		errs = append(errs, errors.New("product is required"))
	}
	if strings.TrimSpace(o.customerTag) == "" {
		errs = append(errs, errors.New("customer-tag is required"))
	}
	return errors.Join(errs...)
}

func parseOptions(args []string) (options, error) {
	var (
		opts options
		mode string
	)

	flags := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&opts.baseURL, "url", "http://localhost:8080", "order service base URL")
	flags.IntVar(&opts.total, "total", 400, "scenarios to run; with -duration acts as an upper bound")
	flags.DurationVar(&opts.duration, "duration", 0, "run for this long instead of a fixed count")
	flags.IntVar(&opts.concurrency, "concurrency", 40, "scenarios in flight")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	flags.StringVar(&mode, "mode", string(modeCreate), "create | lifecycle | create-cancel")
	flags.IntVar(&opts.cancelRate, "cancel-rate", 0, "percent of lifecycle scenarios that cancel the order")
	flags.StringVar(&opts.productName, "product", "Load Test Item", "order item product name")
	flags.Float64Var(&opts.price, "price", 10.00, "order item price")
	flags.StringVar(&opts.customerTag, "customer-tag", "load", "customer name prefix")
	flags.StringVar(&opts.outputPath, "output", "", "write the JSON report to this file")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	flags.Visit(func(f *flag.Flag) {
		opts.totalSet = opts.totalSet || f.Name == "total"
	})

	parsed, err := parseMode(mode)
	if err != nil {
		return opts, err
	}
	opts.mode = parsed
	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	return opts, opts.validate()
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeLifecycle, modeCreateCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", value)
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, opts, &http.Client{}, os.Stdout)
	if err != nil {
		log.WithError(err).Fatal("load test failed")
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run держит в работе не больше opts.concurrency сценариев и печатает сводку в out.
// Когда истекает duration, новые сценарии не стартуют, начатые доходят до конца.
func run(ctx context.Context, opts options, httpClient *http.Client, out io.Writer) (report, error) {
	startedAt := time.Now()
	rec := newRecorder()
	client := &apiClient{http: httpClient, baseURL: opts.baseURL, timeout: opts.timeout, rec: rec}
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	feedCtx := ctx
	if opts.duration > 0 {
		var cancel context.CancelFunc
		feedCtx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(opts.concurrency)
	for index := range scenarioIndexes(feedCtx, opts.limit()) {
		g.Go(func() error {
			runScenario(ctx, client, opts, runID, index)
			return nil
		})
	}
	_ = g.Wait()

	result := rec.report(startedAt, time.Since(startedAt))
	printReport(out, result, opts)
	if opts.outputPath != "" {
		if err := writeReport(opts.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

// scenarioIndexes выдаёт 0, 1, 2... пока жив ctx; limit <= 0 снимает ограничение.
func scenarioIndexes(ctx context.Context, limit int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 0; limit <= 0 || i < limit; i++ {
			if ctx.Err() != nil || !yield(i) {
				return
			}
		}
	}
}

// runScenario создаёт заказ, проводит его по opts.steps и пишет итог под opScenario.
func runScenario(ctx context.Context, client *apiClient, opts options, runID string, index int) error {
	start := time.Now()
	err := playScenario(ctx, client, opts, runID, index)
	client.rec.observe(opScenario, time.Since(start), scenarioCode(err))
	return err
}

func playScenario(ctx context.Context, client *apiClient, opts options, runID string, index int) error {
	req := orders.CreateOrderRequest{
		CustomerName:  fmt.Sprintf("%s-%s-%d", opts.customerTag, runID, index),
		CustomerEmail: fmt.Sprintf("%s+%d@example.com", opts.customerTag, index),
		Items: []orders.CreateOrderItemRequest{{
			ProductName: opts.productName,
			Quantity:    itemQuantity,
			Price:       opts.price,
		}},
	}
	orderID, err := client.createOrder(ctx, req, fmt.Sprintf("lt-create-%s-%d", runID, index))
	if err != nil {
		return err
	}
	for _, next := range opts.steps(index) {
		if err := client.updateStatus(ctx, orderID, next); err != nil {
			return err
		}
	}
	return nil
}
