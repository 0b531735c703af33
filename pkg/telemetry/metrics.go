package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the lease engine.
type Metrics struct {
	config MetricsConfig

	// Lifecycle transition metrics
	transitions       *prometheus.CounterVec
	transitionErrors  *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec

	// Manager loop metrics
	loopRuns     *prometheus.CounterVec
	loopDuration *prometheus.HistogramVec
	loopFailures *prometheus.CounterVec

	// Lock metrics
	lockWait     prometheus.Histogram
	lockTimeouts prometheus.Counter

	// Driver metrics
	driverCalls  *prometheus.CounterVec
	driverErrors *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry. When
// disabled, every recording method is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "metalease"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Lifecycle transitions by object type and verb",
			},
			[]string{"object_type", "verb"},
		),
		transitionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transition_errors_total",
				Help:      "Failed lifecycle transitions by object type and verb",
			},
			[]string{"object_type", "verb"},
		),
		transitionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Lifecycle transition latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"object_type", "verb"},
		),
		loopRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manager_loop_runs_total",
				Help:      "Manager loop executions by loop name",
			},
			[]string{"loop"},
		),
		loopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "manager_loop_duration_seconds",
				Help:      "Manager loop duration by loop name",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"loop"},
		),
		loopFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manager_loop_record_failures_total",
				Help:      "Per-record failures absorbed by manager loops",
			},
			[]string{"loop"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_lock_wait_seconds",
				Help:      "Time spent waiting for per-resource locks",
				Buckets:   []float64{.005, .05, .25, 1, 5, 15, 30},
			},
		),
		lockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_lock_timeouts_total",
				Help:      "Per-resource lock acquisitions that timed out",
			},
		),
		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_calls_total",
				Help:      "Resource driver calls by resource type and method",
			},
			[]string{"resource_type", "method"},
		),
		driverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_errors_total",
				Help:      "Resource driver failures by resource type and method",
			},
			[]string{"resource_type", "method"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.transitionErrors,
		m.transitionLatency,
		m.loopRuns,
		m.loopDuration,
		m.loopFailures,
		m.lockWait,
		m.lockTimeouts,
		m.driverCalls,
		m.driverErrors,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Enabled reports whether metrics collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTransition records one lifecycle transition.
func (m *Metrics) RecordTransition(objectType, verb string, d time.Duration, err error) {
	if !m.Enabled() {
		return
	}
	m.transitions.WithLabelValues(objectType, verb).Inc()
	m.transitionLatency.WithLabelValues(objectType, verb).Observe(d.Seconds())
	if err != nil {
		m.transitionErrors.WithLabelValues(objectType, verb).Inc()
	}
}

// RecordLoop records one manager loop pass.
func (m *Metrics) RecordLoop(loop string, d time.Duration, recordFailures int) {
	if !m.Enabled() {
		return
	}
	m.loopRuns.WithLabelValues(loop).Inc()
	m.loopDuration.WithLabelValues(loop).Observe(d.Seconds())
	if recordFailures > 0 {
		m.loopFailures.WithLabelValues(loop).Add(float64(recordFailures))
	}
}

// RecordLockWait records one lock acquisition attempt.
func (m *Metrics) RecordLockWait(d time.Duration, timedOut bool) {
	if !m.Enabled() {
		return
	}
	m.lockWait.Observe(d.Seconds())
	if timedOut {
		m.lockTimeouts.Inc()
	}
}

// RecordDriverCall records one resource driver call.
func (m *Metrics) RecordDriverCall(resourceType, method string, err error) {
	if !m.Enabled() {
		return
	}
	m.driverCalls.WithLabelValues(resourceType, method).Inc()
	if err != nil {
		m.driverErrors.WithLabelValues(resourceType, method).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method, code string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
