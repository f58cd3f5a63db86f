package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for the forge toolchain.
type Metrics struct {
	config MetricsConfig

	// Archive fetch metrics
	fetchesStarted   *prometheus.CounterVec
	fetchesCompleted *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	fetchBytes       *prometheus.CounterVec
	checksumFailures *prometheus.CounterVec

	// Compilation metrics
	compilesTotal   *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec

	// Compilation cache metrics
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	cacheRetrievalTime prometheus.Histogram
	compileTimeSaved   prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		fetchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_started_total",
				Help:      "Total number of archive fetches started",
			},
			[]string{"archive"},
		),
		fetchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_completed_total",
				Help:      "Total number of archive fetches completed",
			},
			[]string{"archive", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of archive fetch and install in seconds",
				Buckets:   buckets,
			},
			[]string{"archive"},
		),
		fetchBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_bytes_total",
				Help:      "Total bytes downloaded for pinned archives",
			},
			[]string{"archive"},
		),
		checksumFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checksum_failures_total",
				Help:      "Total number of checksum verification failures",
			},
			[]string{"archive"},
		),

		compilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compiles_total",
				Help:      "Total number of backend compilations",
			},
			[]string{"backend", "status"},
		),
		compileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_duration_seconds",
				Help:      "Duration of backend compilation in seconds",
				Buckets:   buckets,
			},
			[]string{"backend"},
		),

		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compile_cache_hits_total",
				Help:      "Total number of persistent compilation cache hits",
			},
			[]string{"backend"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compile_cache_misses_total",
				Help:      "Total number of persistent compilation cache misses",
			},
			[]string{"backend"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compile_cache_errors_total",
				Help:      "Total number of compilation cache read/write errors",
			},
			[]string{"operation"},
		),
		cacheRetrievalTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compile_cache_retrieval_seconds",
				Help:      "Time spent retrieving executables from the compilation cache",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		compileTimeSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compile_time_saved_seconds_total",
				Help:      "Original compile time saved by compilation cache hits",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.fetchesStarted,
		m.fetchesCompleted,
		m.fetchDuration,
		m.fetchBytes,
		m.checksumFailures,
		m.compilesTotal,
		m.compileDuration,
		m.cacheHits,
		m.cacheMisses,
		m.cacheErrors,
		m.cacheRetrievalTime,
		m.compileTimeSaved,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFetchStarted records that a fetch for the named archive began.
func (m *Metrics) RecordFetchStarted(archive string) {
	if m.registry == nil {
		return
	}
	m.fetchesStarted.WithLabelValues(archive).Inc()
}

// RecordFetchCompleted records a finished fetch with its outcome and duration.
func (m *Metrics) RecordFetchCompleted(archive, status string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.fetchesCompleted.WithLabelValues(archive, status).Inc()
	m.fetchDuration.WithLabelValues(archive).Observe(d.Seconds())
}

// RecordFetchBytes adds downloaded bytes for an archive.
func (m *Metrics) RecordFetchBytes(archive string, n int64) {
	if m.registry == nil {
		return
	}
	m.fetchBytes.WithLabelValues(archive).Add(float64(n))
}

// RecordChecksumFailure records a checksum verification failure.
func (m *Metrics) RecordChecksumFailure(archive string) {
	if m.registry == nil {
		return
	}
	m.checksumFailures.WithLabelValues(archive).Inc()
}

// RecordCompile records a backend compilation and its duration.
func (m *Metrics) RecordCompile(backend, status string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.compilesTotal.WithLabelValues(backend, status).Inc()
	m.compileDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordCacheHit records a compilation cache hit together with the retrieval
// time and the compile time the hit saved.
func (m *Metrics) RecordCacheHit(backend string, retrieval time.Duration, saved time.Duration) {
	if m.registry == nil {
		return
	}
	m.cacheHits.WithLabelValues(backend).Inc()
	m.cacheRetrievalTime.Observe(retrieval.Seconds())
	if saved > 0 {
		m.compileTimeSaved.Add(saved.Seconds())
	}
}

// RecordCacheMiss records a compilation cache miss.
func (m *Metrics) RecordCacheMiss(backend string) {
	if m.registry == nil {
		return
	}
	m.cacheMisses.WithLabelValues(backend).Inc()
}

// RecordCacheError records a cache read or write failure.
func (m *Metrics) RecordCacheError(operation string) {
	if m.registry == nil {
		return
	}
	m.cacheErrors.WithLabelValues(operation).Inc()
}
