// Package metrics provides Prometheus metrics for the compile broker.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for the broker.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CompilesTotal    *prometheus.CounterVec
	CompileDuration  *prometheus.HistogramVec
	CompilesInFlight prometheus.Gauge

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheSizeBytes   prometheus.Gauge
	CacheEntries     prometheus.Gauge

	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	RegistryCompilersGauge prometheus.Gauge
	RegistryRescansTotal   *prometheus.CounterVec
	PeerFetchFailuresTotal *prometheus.CounterVec

	OutputTruncationsTotal *prometheus.CounterVec

	StartupTime prometheus.Gauge
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broker",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.CompilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "compile",
			Name:      "total",
			Help:      "Total number of compiles by compiler id and outcome",
		},
		[]string{"compiler_id", "outcome"},
	)

	m.CompileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broker",
			Subsystem: "compile",
			Name:      "duration_seconds",
			Help:      "Compile duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"compiler_id"},
	)

	m.CompilesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "compile",
			Name:      "in_flight",
			Help:      "Number of compiles currently running in the enqueue lane",
		},
	)

	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of result cache hits",
		},
		[]string{"cache_name"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of result cache misses",
		},
		[]string{"cache_name"},
	)

	m.CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Approximate size of the result cache in bytes",
		},
	)

	m.CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of entries currently held in the result cache",
		},
	)

	m.SandboxExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total number of sandboxed executions by outcome",
		},
		[]string{"outcome"},
	)

	m.SandboxExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broker",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandboxed execution duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
		[]string{"mode"},
	)

	m.RegistryCompilersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "registry",
			Name:      "compilers",
			Help:      "Number of compiler descriptors in the last published snapshot",
		},
	)

	m.RegistryRescansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "registry",
			Name:      "rescans_total",
			Help:      "Total number of registry rescans by whether the snapshot changed",
		},
		[]string{"changed"},
	)

	m.PeerFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "registry",
			Name:      "peer_fetch_failures_total",
			Help:      "Total number of exhausted peer-fetch retry sequences",
		},
		[]string{"peer"},
	)

	m.OutputTruncationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "process",
			Name:      "output_truncations_total",
			Help:      "Total number of times a child process's output crossed its cap",
		},
		[]string{"stream"},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)
	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordCompile records a compile outcome metric.
func (m *Metrics) RecordCompile(compilerID, outcome string, duration time.Duration) {
	m.CompilesTotal.WithLabelValues(compilerID, outcome).Inc()
	m.CompileDuration.WithLabelValues(compilerID).Observe(duration.Seconds())
}

// RecordCacheOperation records a cache hit or miss.
func (m *Metrics) RecordCacheOperation(cacheName string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

// RecordSandboxExecution records a sandboxed execution outcome metric.
func (m *Metrics) RecordSandboxExecution(mode, outcome string, duration time.Duration) {
	m.SandboxExecutionsTotal.WithLabelValues(outcome).Inc()
	m.SandboxExecutionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordRegistryRescan records whether a rescan changed the published snapshot.
func (m *Metrics) RecordRegistryRescan(changed bool, compilerCount int) {
	if changed {
		m.RegistryRescansTotal.WithLabelValues("true").Inc()
	} else {
		m.RegistryRescansTotal.WithLabelValues("false").Inc()
	}
	m.RegistryCompilersGauge.Set(float64(compilerCount))
}

// RecordPeerFetchFailure records an exhausted peer-fetch retry sequence.
func (m *Metrics) RecordPeerFetchFailure(peer string) {
	m.PeerFetchFailuresTotal.WithLabelValues(peer).Inc()
}

// RecordOutputTruncation records that a stream crossed its output cap.
func (m *Metrics) RecordOutputTruncation(stream string) {
	m.OutputTruncationsTotal.WithLabelValues(stream).Inc()
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
