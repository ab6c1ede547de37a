// Package telemetry exposes Prometheus metrics and an optional trace recorder
// for the query engine.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds every Prometheus collector the engine records into.
type Metrics struct {
	QueriesTotal   *prometheus.CounterVec
	ResponseTime   prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	ActiveRequests prometheus.Gauge

	CacheHits    *prometheus.CounterVec
	CacheMisses  prometheus.Counter
	CacheHitRate prometheus.Gauge

	BreakerState *prometheus.GaugeVec
	RetryTotal   *prometheus.CounterVec

	DeepInFlight    prometheus.Gauge
	DeepFallbacks   prometheus.Counter
	WorkflowQuality prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics builds and registers the engine collectors on a private registry
// so tests can construct metrics repeatedly without duplicate registration.
func NewMetrics() *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontochat_queries_total",
				Help: "Total queries handled, by routed intent and outcome",
			},
			[]string{"intent", "status"},
		),
		ResponseTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ontochat_response_seconds",
				Help:    "End-to-end response time in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.5, 5, 10, 30, 60, 120, 180},
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ontochat_stage_seconds",
				Help:    "Duration of each processing stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 45},
			},
			[]string{"stage"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ontochat_active_requests",
				Help: "Requests currently in flight",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontochat_cache_hits_total",
				Help: "Cache hits by layer",
			},
			[]string{"layer"},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ontochat_cache_misses_total",
				Help: "Full cache misses across all layers",
			},
		),
		CacheHitRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ontochat_cache_hit_rate",
				Help: "Rolling cache hit rate (0.0 to 1.0)",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ontochat_breaker_state",
				Help: "Circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
			},
			[]string{"backend"},
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ontochat_retries_total",
				Help: "Retry attempts by backend",
			},
			[]string{"backend"},
		),
		DeepInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ontochat_deep_in_flight",
				Help: "Deep analyses currently running",
			},
		),
		DeepFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ontochat_deep_fallbacks_total",
				Help: "Deep analyses that fell back to a fast handler",
			},
		),
		WorkflowQuality: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ontochat_workflow_quality",
				Help:    "Final quality score of deep workflow runs",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.QueriesTotal,
		m.ResponseTime,
		m.StageDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRate,
		m.BreakerState,
		m.RetryTotal,
		m.DeepInFlight,
		m.DeepFallbacks,
		m.WorkflowQuality,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StageTimer measures one named stage of a request.
type StageTimer struct {
	metrics *Metrics
	stage   string
	start   time.Time
}

// StartStage begins timing a stage.
func (m *Metrics) StartStage(stage string) *StageTimer {
	return &StageTimer{metrics: m, stage: stage, start: time.Now()}
}

// Stop records the stage duration and returns it.
func (t *StageTimer) Stop() time.Duration {
	d := time.Since(t.start)
	t.metrics.StageDuration.WithLabelValues(t.stage).Observe(d.Seconds())
	log.Debug().Str("stage", t.stage).Dur("duration", d).Msg("stage completed")
	return d
}

// RecordQuery records a completed query with its routed intent and outcome.
func (m *Metrics) RecordQuery(intent, status string, elapsed time.Duration) {
	m.QueriesTotal.WithLabelValues(intent, status).Inc()
	m.ResponseTime.Observe(elapsed.Seconds())
}

// SetBreakerState publishes a breaker state transition.
func (m *Metrics) SetBreakerState(backend string, state float64) {
	m.BreakerState.WithLabelValues(backend).Set(state)
}
