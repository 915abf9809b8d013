package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Render cycle metrics
	PageLoadsTotal   *prometheus.CounterVec
	PageLoadDuration *prometheus.HistogramVec
	StaleLoadsTotal  *prometheus.CounterVec

	// Backend call metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Count metrics
	CountsTotal           *prometheus.CounterVec
	TabCountFailuresTotal *prometheus.CounterVec

	// System metrics
	EndpointsReloadTotal     *prometheus.CounterVec
	SectionsConfigured       prometheus.Gauge
	StaticDatasetsLoaded     prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datadeck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datadeck_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Render cycles
		PageLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_page_loads_total",
			Help: "Total number of settled render cycles.",
		}, []string{"section", "result", "appended"}),
		PageLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datadeck_page_load_duration_seconds",
			Help:    "Render cycle duration from request to settle, in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"section"}),
		StaleLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_stale_loads_total",
			Help: "Total number of loads dropped because a newer mutation superseded them.",
		}, []string{"section"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_backend_requests_total",
			Help: "Total number of backend requests. Status 0 means no response.",
		}, []string{"section", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datadeck_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"section"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "datadeck_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"section"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"section"}),

		// Counts
		CountsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_counts_total",
			Help: "Total number of count resolutions.",
		}, []string{"section", "result"}),
		TabCountFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_tab_count_failures_total",
			Help: "Total number of tab counts that failed and reported zero.",
		}, []string{"section", "tab"}),

		// System
		EndpointsReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datadeck_endpoints_reload_total",
			Help: "Total endpoints document reloads.",
		}, []string{"status"}),
		SectionsConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datadeck_sections_configured",
			Help: "Number of configured sections.",
		}),
		StaticDatasetsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datadeck_static_datasets_loaded",
			Help: "Number of loaded static datasets.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "datadeck_openapi_operations_indexed",
			Help: "Number of indexed OpenAPI operations.",
		}, []string{"service_id"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.PageLoadsTotal,
		m.PageLoadDuration,
		m.StaleLoadsTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.CountsTotal,
		m.TabCountFailuresTotal,
		m.EndpointsReloadTotal,
		m.SectionsConfigured,
		m.StaticDatasetsLoaded,
		m.OpenAPIOperationsIndexed,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordPageLoad records a settled render cycle.
func (m *Metrics) RecordPageLoad(section, result string, appended bool, duration time.Duration) {
	m.PageLoadsTotal.WithLabelValues(section, result, strconv.FormatBool(appended)).Inc()
	m.PageLoadDuration.WithLabelValues(section).Observe(duration.Seconds())
}

// RecordStaleLoad records a load dropped by the generation guard.
func (m *Metrics) RecordStaleLoad(section string) {
	m.StaleLoadsTotal.WithLabelValues(section).Inc()
}

// RecordBackendRequest records one backend call. Satisfies backend.Recorder.
func (m *Metrics) RecordBackendRequest(section string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(section, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(section).Observe(duration.Seconds())
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(section string) {
	m.BackendRetriesTotal.WithLabelValues(section).Inc()
}

// SetBreakerState sets the circuit breaker gauge for a section.
func (m *Metrics) SetBreakerState(section string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(section).Set(state)
}

// RecordCount records one count resolution outcome.
func (m *Metrics) RecordCount(section, result string) {
	m.CountsTotal.WithLabelValues(section, result).Inc()
}

// RecordTabCountFailure records a tab count that degraded to zero.
func (m *Metrics) RecordTabCountFailure(section, tab string) {
	m.TabCountFailuresTotal.WithLabelValues(section, tab).Inc()
}

// RecordEndpointsReload records an endpoints document reload.
func (m *Metrics) RecordEndpointsReload(status string) {
	m.EndpointsReloadTotal.WithLabelValues(status).Inc()
}

// SetSectionsConfigured sets the number of configured sections.
func (m *Metrics) SetSectionsConfigured(count float64) {
	m.SectionsConfigured.Set(count)
}

// SetStaticDatasetsLoaded sets the number of loaded static datasets.
func (m *Metrics) SetStaticDatasetsLoaded(count float64) {
	m.StaticDatasetsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed OpenAPI operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(serviceID string, count float64) {
	m.OpenAPIOperationsIndexed.WithLabelValues(serviceID).Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
