package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Result label values.
const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the Prometheus metrics of one provisioning process.
// A run is short-lived, so metrics are exported through a node_exporter
// textfile or a Pushgateway instead of a scrape endpoint.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	lastRunSuccess   prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
	registry         *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dynamic_certs"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of certificate provisioning runs",
		},
		[]string{"backend", "result"},
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a provisioning run in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	m.stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of generation steps executed",
		},
		[]string{"step", "result"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of a single generation step in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"step"},
	)

	m.lastRunSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last provisioning run succeeded (1) or failed (0)",
		},
	)

	m.lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last provisioning run in unix seconds",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for dynamic-certs",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.stepsTotal,
		m.stepDuration,
		m.lastRunSuccess,
		m.lastRunTimestamp,
		m.buildInfo,
	)

	return m
}

// RecordRun records a completed provisioning run.
func (m *Metrics) RecordRun(backend string, duration time.Duration, err error) {
	result := resultSuccess
	success := 1.0
	if err != nil {
		result = resultError
		success = 0
	}

	m.runsTotal.WithLabelValues(backend, result).Inc()
	m.runDuration.WithLabelValues(backend).Observe(duration.Seconds())
	m.lastRunSuccess.Set(success)
	m.lastRunTimestamp.SetToCurrentTime()
}

// RecordStep records a single generation step.
func (m *Metrics) RecordStep(step string, duration time.Duration, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}

	m.stepsTotal.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format to path,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Push pushes all metrics to a Prometheus Pushgateway under the given job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
