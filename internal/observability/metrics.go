package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// RunMetrics holds the collectors of a single run. A one-shot process does
// not live long enough to be scraped, so they are pushed on exit.
type RunMetrics struct {
	registry        *prometheus.Registry
	runsTotal       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	rowsWritten     prometheus.Counter
	bytesWritten    prometheus.Counter
	previewFailures prometheus.Counter
	cleanupFailures prometheus.Counter
}

func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adhocsql_runs_total",
				Help: "Total number of query runs by final status.",
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adhocsql_stage_duration_seconds",
				Help:    "Duration of each run stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"stage"},
		),
		rowsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adhocsql_output_rows_total",
				Help: "Total number of result rows written to object storage.",
			},
		),
		bytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adhocsql_output_bytes_total",
				Help: "Total number of result bytes written to object storage.",
			},
		),
		previewFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adhocsql_preview_failures_total",
				Help: "Total number of sample previews that could not be shown.",
			},
		),
		cleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "adhocsql_session_release_failures_total",
				Help: "Total number of sessions that could not be released cleanly.",
			},
		),
	}
	m.registry.MustRegister(
		m.runsTotal,
		m.stageDuration,
		m.rowsWritten,
		m.bytesWritten,
		m.previewFailures,
		m.cleanupFailures,
	)
	return m
}

func (m *RunMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *RunMetrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(strings.ToLower(stage)).Observe(elapsed.Seconds())
}

func (m *RunMetrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func (m *RunMetrics) RecordOutput(rows, bytes int64) {
	if m == nil {
		return
	}
	if rows > 0 {
		m.rowsWritten.Add(float64(rows))
	}
	if bytes > 0 {
		m.bytesWritten.Add(float64(bytes))
	}
}

func (m *RunMetrics) RecordPreviewFailure() {
	if m == nil {
		return
	}
	m.previewFailures.Inc()
}

func (m *RunMetrics) RecordCleanupFailure() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

// Push replaces the metrics of this grouping on a Pushgateway.
func (m *RunMetrics) Push(ctx context.Context, url, job string, timeout time.Duration, grouping map[string]string) error {
	if m == nil || strings.TrimSpace(url) == "" {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	pusher := push.New(url, job).Gatherer(m.registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push run metrics: %w", err)
	}
	return nil
}
