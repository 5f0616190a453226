package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for curator.
type Metrics struct {
	config MetricsConfig

	// Lifecycle operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	// Repository metrics
	repositoryCalls    *prometheus.CounterVec
	repositoryDuration *prometheus.HistogramVec
	repositoryErrors   *prometheus.CounterVec

	// Resolver metrics
	resolverVisits     *prometheus.CounterVec
	resolverCacheHits  prometheus.Counter
	artifactsCommitted *prometheus.CounterVec
	policyWarnings     *prometheus.CounterVec
	federatedAmbiguous prometheus.Counter

	// Diff metrics
	diffCacheLookups *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeOperations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of lifecycle operations started",
			},
			[]string{"operation"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of lifecycle operations completed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of lifecycle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),

		repositoryCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_calls_total",
				Help:      "Total number of repository handle calls",
			},
			[]string{"repository", "operation"},
		),
		repositoryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "repository_call_duration_seconds",
				Help:      "Duration of repository handle calls in seconds",
				Buckets:   buckets,
			},
			[]string{"repository", "operation"},
		),
		repositoryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_errors_total",
				Help:      "Total number of repository handle errors",
			},
			[]string{"repository", "operation", "kind"},
		),

		resolverVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_visits_total",
				Help:      "Total number of dependency graph nodes visited",
			},
			[]string{"outcome"},
		),
		resolverCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_cache_hits_total",
				Help:      "Total number of resolver lookups served from the traversal cache",
			},
		),
		artifactsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_committed_total",
				Help:      "Total number of artifacts written by lifecycle operations",
			},
			[]string{"operation", "status"},
		),
		policyWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_warnings_total",
				Help:      "Total number of policy warnings emitted",
			},
			[]string{"field"},
		),
		federatedAmbiguous: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "federated_ambiguous_total",
				Help:      "Total number of artifacts found in more than one federated member",
			},
		),

		diffCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diff_cache_lookups_total",
				Help:      "Total number of diff cache lookups",
			},
			[]string{"result"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),

		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of in-flight lifecycle operations",
			},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.repositoryCalls,
		m.repositoryDuration,
		m.repositoryErrors,
		m.resolverVisits,
		m.resolverCacheHits,
		m.artifactsCommitted,
		m.policyWarnings,
		m.federatedAmbiguous,
		m.diffCacheLookups,
		m.errorsByKind,
		m.activeOperations,
	)

	return m, nil
}

// Operation Metrics

// RecordOperationStarted increments the counter for started lifecycle operations.
func (m *Metrics) RecordOperationStarted(operation string) {
	if m == nil || m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(operation).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a finished lifecycle operation with its status and duration.
func (m *Metrics) RecordOperationCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// Repository Metrics

// RecordRepositoryCall records a repository handle call with its duration.
func (m *Metrics) RecordRepositoryCall(repository, operation string, duration time.Duration) {
	if m == nil || m.repositoryCalls == nil {
		return
	}
	m.repositoryCalls.WithLabelValues(repository, operation).Inc()
	m.repositoryDuration.WithLabelValues(repository, operation).Observe(duration.Seconds())
}

// RecordRepositoryError records a failed repository handle call.
func (m *Metrics) RecordRepositoryError(repository, operation, kind string) {
	if m == nil || m.repositoryErrors == nil {
		return
	}
	m.repositoryErrors.WithLabelValues(repository, operation, kind).Inc()
}

// RecordFederatedAmbiguity records an artifact identity served by several members.
func (m *Metrics) RecordFederatedAmbiguity() {
	if m == nil || m.federatedAmbiguous == nil {
		return
	}
	m.federatedAmbiguous.Inc()
}

// Resolver Metrics

// RecordResolverVisit records the outcome of visiting one graph node
// (resolved, unresolved, cycle).
func (m *Metrics) RecordResolverVisit(outcome string) {
	if m == nil || m.resolverVisits == nil {
		return
	}
	m.resolverVisits.WithLabelValues(outcome).Inc()
}

// RecordResolverCacheHit records a lookup served from the traversal cache.
func (m *Metrics) RecordResolverCacheHit() {
	if m == nil || m.resolverCacheHits == nil {
		return
	}
	m.resolverCacheHits.Inc()
}

// RecordArtifactCommitted records one artifact written during a commit.
func (m *Metrics) RecordArtifactCommitted(operation, status string) {
	if m == nil || m.artifactsCommitted == nil {
		return
	}
	m.artifactsCommitted.WithLabelValues(operation, status).Inc()
}

// RecordPolicyWarning records a non-fatal policy finding.
func (m *Metrics) RecordPolicyWarning(field string) {
	if m == nil || m.policyWarnings == nil {
		return
	}
	m.policyWarnings.WithLabelValues(field).Inc()
}

// Diff Metrics

// RecordDiffCacheLookup records a diff cache hit or miss.
func (m *Metrics) RecordDiffCacheLookup(hit bool) {
	if m == nil || m.diffCacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.diffCacheLookups.WithLabelValues(result).Inc()
}

// Error Metrics

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Registry returns the underlying Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves Handler on ListenAddress in the background. The
// returned server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if m == nil || !m.config.Enabled {
		return nil, nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("listen", server.Addr).Msg("Metrics server stopped")
		}
	}()

	return server, nil
}
