// Package metrics provides Prometheus metrics export for the research
// workflow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wamiqreh/ai-research-assistant/ai/core/llm"
	"github.com/wamiqreh/ai-research-assistant/ai/research"
)

// PrometheusExporter exports workflow metrics in Prometheus format. It
// implements research.MetricsRecorder.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Run metrics
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// Phase metrics
	phaseDuration *prometheus.HistogramVec

	// Search metrics
	searches *prometheus.CounterVec

	// LLM token metrics
	llmTokensUsed *prometheus.CounterVec

	// Progress delivery
	progressDropped prometheus.Counter
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for duration histograms (in seconds)
	DurationBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		DurationBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Workflow runs by coordination mode and terminal status",
		},
		[]string{"mode", "status"},
	)

	e.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "End-to-end run duration in seconds",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"mode"},
	)

	e.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "research",
			Subsystem: "workflow",
			Name:      "phase_duration_seconds",
			Help:      "Per-phase duration in seconds",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"phase"},
	)

	e.searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "workflow",
			Name:      "searches_total",
			Help:      "Individual searches by outcome",
		},
		[]string{"status"},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM tokens consumed by kind",
		},
		[]string{"kind"},
	)

	e.progressDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "research",
			Subsystem: "workflow",
			Name:      "progress_events_dropped_total",
			Help:      "Progress events discarded due to a full buffer",
		},
	)

	registry.MustRegister(
		e.runs,
		e.runDuration,
		e.phaseDuration,
		e.searches,
		e.llmTokensUsed,
		e.progressDropped,
	)

	return e
}

// RecordRun records one finished run.
func (e *PrometheusExporter) RecordRun(mode string, status research.RunStatus, duration time.Duration) {
	e.runs.WithLabelValues(mode, string(status)).Inc()
	e.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordPhase records the duration of one workflow phase.
func (e *PrometheusExporter) RecordPhase(phase research.Phase, duration time.Duration) {
	e.phaseDuration.WithLabelValues(string(phase)).Observe(duration.Seconds())
}

// RecordSearch records one search outcome.
func (e *PrometheusExporter) RecordSearch(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	e.searches.WithLabelValues(status).Inc()
}

// RecordUsage records accumulated token usage of one run.
func (e *PrometheusExporter) RecordUsage(stats llm.CallStats) {
	e.llmTokensUsed.WithLabelValues("prompt").Add(float64(stats.PromptTokens))
	e.llmTokensUsed.WithLabelValues("completion").Add(float64(stats.CompletionTokens))
	if stats.CacheReadTokens > 0 {
		e.llmTokensUsed.WithLabelValues("cache_read").Add(float64(stats.CacheReadTokens))
	}
}

// RecordProgressDropped adds dropped progress events observed after a run.
func (e *PrometheusExporter) RecordProgressDropped(count int64) {
	if count > 0 {
		e.progressDropped.Add(float64(count))
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
