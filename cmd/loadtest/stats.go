package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// opScenario: весь сценарий целиком, остальные операции это отдельные HTTP-вызовы.
	opScenario = "scenario"
	// noResponse: код для вызова, на который сервер не ответил.
	noResponse = 0
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type opReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time           `json:"started_at"`
	DurationSeconds   float64             `json:"duration_seconds"`
	TotalScenarios    int64               `json:"total_scenarios"`
	SuccessScenarios  int64               `json:"success_scenarios"`
	FailedScenarios   int64               `json:"failed_scenarios"`
	ErrorRate         float64             `json:"error_rate"`
	RPS               float64             `json:"rps"`
	ScenarioLatencyMs latencySummary      `json:"scenario_latency_ms"`
	Methods           map[string]opReport `json:"methods"`
}

type opStats struct {
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []time.Duration
}

func (s *opStats) report() opReport {
	calls := s.success + s.failed
	return opReport{
		Calls:     calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: errorRate(s.failed, calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: summarize(s.latencies),
	}
}

// recorder копит результаты вызовов из всех воркеров.
type recorder struct {
	mu  sync.Mutex
	ops map[string]*opStats
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[string]*opStats)}
}

// observe учитывает вызов op; code noResponse означает, что ответа не было.
func (r *recorder) observe(op string, latency time.Duration, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.ops[op]
	if !ok {
		stats = &opStats{codes: make(map[string]int64)}
		r.ops[op] = stats
	}
	if succeeded(code) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[codeLabel(code)]++
	stats.latencies = append(stats.latencies, latency)
}

func (r *recorder) op(name string) (opReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.ops[name]
	if !ok {
		return opReport{}, false
	}
	return stats.report(), true
}

func (r *recorder) report(startedAt time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]opReport, len(r.ops)),
	}
	for name, stats := range r.ops {
		result.Methods[name] = stats.report()
	}

	scenarios := result.Methods[opScenario]
	result.TotalScenarios = scenarios.Calls
	result.SuccessScenarios = scenarios.Success
	result.FailedScenarios = scenarios.Failed
	result.ErrorRate = scenarios.ErrorRate
	result.ScenarioLatencyMs = scenarios.LatencyMs
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func succeeded(code int) bool {
	return code >= 200 && code < 300
}

func codeLabel(code int) string {
	if code == noResponse {
		return "transport_error"
	}
	return strconv.Itoa(code)
}

func errorRate(failed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// summarize считает перцентили по nearest-rank в миллисекундах.
func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(latencies))

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return latencySummary{
		Min: millis(sorted[0]),
		Max: millis(sorted[len(sorted)-1]),
		Avg: millis(sum / time.Duration(len(sorted))),
		P50: millis(nearestRank(sorted, 50)),
		P95: millis(nearestRank(sorted, 95)),
		P99: millis(nearestRank(sorted, 99)),
	}
}

// nearestRank: наименьшее значение, не меньше которого p% выборки. sorted не пуст.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func printReport(out io.Writer, result report, opts options) {
	fmt.Fprintln(out, "Load test summary")
	fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		opts.mode, opts.target(), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	lat := result.ScenarioLatencyMs
	fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == opScenario {
			continue
		}
		op := result.Methods[name]
		fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, op.Calls, op.Success, op.Failed, op.ErrorRate, op.LatencyMs.P95)
	}
}

// writeReport сохраняет отчёт в JSON; путь должен указывать на файл внутри текущего каталога.
func writeReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
