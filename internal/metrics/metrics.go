package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Herald
type Metrics struct {
	// Dispatch counters
	DispatchesTotal      *prometheus.CounterVec
	DeliveriesTotal      *prometheus.CounterVec
	DeliveryErrorsTotal  *prometheus.CounterVec
	DispatchTargets      *prometheus.HistogramVec
	DispatchDurationSecs *prometheus.HistogramVec

	// Templates
	TemplateWritesTotal *prometheus.CounterVec
	TemplatesTotal      prometheus.Gauge
	TemplatesActive     prometheus.Gauge
	TemplateVersions    prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_dispatches_total",
				Help: "Total number of dispatch requests handled",
			},
			[]string{"channel", "status"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_deliveries_total",
				Help: "Total number of per-target delivery attempts",
			},
			[]string{"channel", "provider", "result"},
		),
		DeliveryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_delivery_errors_total",
				Help: "Total number of failed deliveries by error kind",
			},
			[]string{"provider", "error_kind"},
		),
		DispatchTargets: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_dispatch_targets",
				Help:    "Number of targets per dispatch",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"channel"},
		),
		DispatchDurationSecs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_dispatch_duration_seconds",
				Help:    "Dispatch duration in seconds, measured at the API",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"channel"},
		),

		TemplateWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_template_writes_total",
				Help: "Total number of template writes by operation",
			},
			[]string{"operation"},
		),
		TemplatesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_templates",
				Help: "Number of stored templates, including deleted",
			},
		),
		TemplatesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_templates_active",
				Help: "Number of active templates",
			},
		),
		TemplateVersions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_template_versions",
				Help: "Number of stored template versions",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "herald_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.DispatchesTotal,
		m.DeliveriesTotal,
		m.DeliveryErrorsTotal,
		m.DispatchTargets,
		m.DispatchDurationSecs,
		m.TemplateWritesTotal,
		m.TemplatesTotal,
		m.TemplatesActive,
		m.TemplateVersions,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncTemplateWrite increments the template write counter
func IncTemplateWrite(operation string) {
	m := Global()
	if m != nil {
		m.TemplateWritesTotal.WithLabelValues(operation).Inc()
	}
}

// ObserveDispatchDuration records how long a dispatch took
func ObserveDispatchDuration(channel string, seconds float64) {
	m := Global()
	if m != nil {
		m.DispatchDurationSecs.WithLabelValues(channel).Observe(seconds)
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
