// Package metrics provides Prometheus metrics for the schema registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the schema registry.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Schema metrics
	SchemasTotal       *prometheus.GaugeVec
	SubjectsTotal      prometheus.Gauge
	SchemaVersions     *prometheus.GaugeVec
	RegistrationsTotal *prometheus.CounterVec

	// Compatibility metrics
	CompatibilityChecks *prometheus.CounterVec
	CompatibilityErrors *prometheus.CounterVec

	// Storage metrics
	StorageOperations *prometheus.CounterVec
	StorageLatency    *prometheus.HistogramVec
	StorageErrors     *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheSize   *prometheus.GaugeVec

	// Auth metrics
	AuthAttempts *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
	AuthLatency  *prometheus.HistogramVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec

	registry *prometheus.Registry
}

type counterSpec struct {
	name   string
	help   string
	labels []string
}

type gaugeVecSpec struct {
	name   string
	help   string
	labels []string
}

type histogramSpec struct {
	name   string
	help   string
	labels []string
}

var counterSpecs = []counterSpec{
	{"schema_registry_requests_total", "Total number of HTTP requests", []string{"method", "path", "status"}},
	{"schema_registry_registrations_total", "Total number of schema registrations", []string{"type", "status"}},
	{"schema_registry_compatibility_checks_total", "Total number of compatibility checks", []string{"type", "level", "result"}},
	{"schema_registry_compatibility_errors_total", "Total number of compatibility check errors", []string{"type", "level"}},
	{"schema_registry_storage_operations_total", "Total number of storage operations", []string{"backend", "operation"}},
	{"schema_registry_storage_errors_total", "Total number of storage errors", []string{"backend", "operation"}},
	{"schema_registry_cache_hits_total", "Total number of cache hits", []string{"cache"}},
	{"schema_registry_cache_misses_total", "Total number of cache misses", []string{"cache"}},
	{"schema_registry_auth_attempts_total", "Total number of authentication attempts", []string{"method"}},
	{"schema_registry_auth_failures_total", "Total number of authentication failures", []string{"method", "reason"}},
	{"schema_registry_rate_limit_hits_total", "Total number of rate limit hits", []string{"client"}},
}

var gaugeVecSpecs = []gaugeVecSpec{
	{"schema_registry_schemas_total", "Total number of schemas by type", []string{"type"}},
	{"schema_registry_schema_versions", "Number of versions per subject", []string{"subject"}},
	{"schema_registry_cache_size", "Current cache size", []string{"cache"}},
}

var histogramSpecs = []histogramSpec{
	{"schema_registry_request_duration_seconds", "HTTP request latency in seconds", []string{"method", "path"}},
	{"schema_registry_storage_latency_seconds", "Storage operation latency in seconds", []string{"backend", "operation"}},
	{"schema_registry_auth_latency_seconds", "Authentication latency in seconds", []string{"method"}},
}

func buildCounters(specs []counterSpec) map[string]*prometheus.CounterVec {
	out := make(map[string]*prometheus.CounterVec, len(specs))
	for _, sp := range specs {
		out[sp.name] = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: sp.name, Help: sp.help},
			sp.labels,
		)
	}
	return out
}

func buildGaugeVecs(specs []gaugeVecSpec) map[string]*prometheus.GaugeVec {
	out := make(map[string]*prometheus.GaugeVec, len(specs))
	for _, sp := range specs {
		out[sp.name] = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: sp.name, Help: sp.help},
			sp.labels,
		)
	}
	return out
}

func buildHistograms(specs []histogramSpec) map[string]*prometheus.HistogramVec {
	out := make(map[string]*prometheus.HistogramVec, len(specs))
	for _, sp := range specs {
		out[sp.name] = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: sp.name, Help: sp.help, Buckets: prometheus.DefBuckets},
			sp.labels,
		)
	}
	return out
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	counters := buildCounters(counterSpecs)
	gaugeVecs := buildGaugeVecs(gaugeVecSpecs)
	histograms := buildHistograms(histogramSpecs)

	m.RequestsTotal = counters["schema_registry_requests_total"]
	m.RegistrationsTotal = counters["schema_registry_registrations_total"]
	m.CompatibilityChecks = counters["schema_registry_compatibility_checks_total"]
	m.CompatibilityErrors = counters["schema_registry_compatibility_errors_total"]
	m.StorageOperations = counters["schema_registry_storage_operations_total"]
	m.StorageErrors = counters["schema_registry_storage_errors_total"]
	m.CacheHits = counters["schema_registry_cache_hits_total"]
	m.CacheMisses = counters["schema_registry_cache_misses_total"]
	m.AuthAttempts = counters["schema_registry_auth_attempts_total"]
	m.AuthFailures = counters["schema_registry_auth_failures_total"]
	m.RateLimitHits = counters["schema_registry_rate_limit_hits_total"]

	m.SchemasTotal = gaugeVecs["schema_registry_schemas_total"]
	m.SchemaVersions = gaugeVecs["schema_registry_schema_versions"]
	m.CacheSize = gaugeVecs["schema_registry_cache_size"]

	m.RequestDuration = histograms["schema_registry_request_duration_seconds"]
	m.StorageLatency = histograms["schema_registry_storage_latency_seconds"]
	m.AuthLatency = histograms["schema_registry_auth_latency_seconds"]

	m.RequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schema_registry_requests_in_flight",
		Help: "Number of HTTP requests currently being processed",
	})
	m.SubjectsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schema_registry_subjects_total",
		Help: "Total number of subjects",
	})

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.SchemasTotal,
		m.SubjectsTotal,
		m.SchemaVersions,
		m.RegistrationsTotal,
		m.CompatibilityChecks,
		m.CompatibilityErrors,
		m.StorageOperations,
		m.StorageLatency,
		m.StorageErrors,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSize,
		m.AuthAttempts,
		m.AuthFailures,
		m.AuthLatency,
		m.RateLimitHits,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// pathPattern maps a path prefix/suffix combination to its normalized form,
// keeping cardinality bounded for path-labeled metrics.
type pathPattern struct {
	prefix     string
	suffix     string
	contains   string
	normalized string
}

var pathPatterns = []pathPattern{
	{prefix: "/subjects/", contains: "/versions/", normalized: "/subjects/{subject}/versions/{version}"},
	{prefix: "/subjects/", suffix: "/versions", normalized: "/subjects/{subject}/versions"},
	{prefix: "/subjects/", normalized: "/subjects/{subject}"},
	{prefix: "/schemas/ids/", normalized: "/schemas/ids/{id}"},
	{prefix: "/config/", normalized: "/config/{subject}"},
	{prefix: "/mode/", normalized: "/mode/{subject}"},
	{prefix: "/compatibility/subjects/", normalized: "/compatibility/subjects/{subject}/versions/{version}"},
}

// normalizePath normalizes a URL path to reduce cardinality. Context-scoped
// paths (/contexts/{context}/...) keep the prefix with a {context} placeholder
// and normalize the remainder.
func normalizePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "/contexts/"); ok {
		if i := strings.Index(rest, "/"); i >= 0 {
			return "/contexts/{context}" + normalizePath(rest[i:])
		}
	}
	for _, p := range pathPatterns {
		if !strings.HasPrefix(path, p.prefix) {
			continue
		}
		if p.suffix != "" && !strings.HasSuffix(path, p.suffix) {
			continue
		}
		if p.contains != "" && !strings.Contains(path, p.contains) {
			continue
		}
		return p.normalized
	}
	return path
}

// RecordSchemaRegistration records a schema registration attempt.
func (m *Metrics) RecordSchemaRegistration(schemaType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RegistrationsTotal.WithLabelValues(schemaType, status).Inc()
}

// RecordCompatibilityCheck records a compatibility check result.
func (m *Metrics) RecordCompatibilityCheck(schemaType, level string, compatible bool) {
	result := "compatible"
	if !compatible {
		result = "incompatible"
	}
	m.CompatibilityChecks.WithLabelValues(schemaType, level, result).Inc()
}

// RecordStorageOperation records a storage operation.
func (m *Metrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.StorageOperations.WithLabelValues(backend, operation).Inc()
	m.StorageLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordCacheAccess records a cache access.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(cache).Inc()
	} else {
		m.CacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordAuthAttempt records an authentication attempt.
func (m *Metrics) RecordAuthAttempt(method string, success bool, reason string, duration time.Duration) {
	m.AuthAttempts.WithLabelValues(method).Inc()
	m.AuthLatency.WithLabelValues(method).Observe(duration.Seconds())
	if !success {
		m.AuthFailures.WithLabelValues(method, reason).Inc()
	}
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(client string) {
	m.RateLimitHits.WithLabelValues(client).Inc()
}

// UpdateSchemaCount updates the schema count for a type.
func (m *Metrics) UpdateSchemaCount(schemaType string, count float64) {
	m.SchemasTotal.WithLabelValues(schemaType).Set(count)
}

// UpdateSubjectCount updates the subject count.
func (m *Metrics) UpdateSubjectCount(count float64) {
	m.SubjectsTotal.Set(count)
}

// UpdateCacheSize updates the cache size.
func (m *Metrics) UpdateCacheSize(cache string, size float64) {
	m.CacheSize.WithLabelValues(cache).Set(size)
}
