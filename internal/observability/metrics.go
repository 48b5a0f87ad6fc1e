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
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	fetchDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the configurator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Session metrics
	SessionsCreatedTotal  *prometheus.CounterVec
	SessionsActive        prometheus.Gauge
	SessionsExpiredTotal  prometheus.Counter
	SessionConflictsTotal prometheus.Counter
	ZoneSavesTotal        *prometheus.CounterVec
	ZoneRemovalsTotal     *prometheus.CounterVec
	VehicleSwitchesTotal  *prometheus.CounterVec
	ZonesPrunedTotal      prometheus.Counter
	JobZoneCommitsTotal   *prometheus.CounterVec

	// Asset metrics
	AssetLoadsTotal       *prometheus.CounterVec
	AssetFetchDuration    prometheus.Histogram
	AssetCircuitBreaker   prometheus.Gauge
	AssetCacheHitsTotal   *prometheus.CounterVec
	AssetCacheMissesTotal *prometheus.CounterVec

	// Capability cache
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	// Catalog
	CatalogZones *prometheus.GaugeVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "configurator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "configurator_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "configurator_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Sessions
		SessionsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_sessions_created_total",
			Help: "Total number of configurator sessions created.",
		}, []string{"mode"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "configurator_sessions_active",
			Help: "Number of live configurator sessions.",
		}),
		SessionsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "configurator_sessions_expired_total",
			Help: "Total number of sessions removed by the expiry sweep.",
		}),
		SessionConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "configurator_session_conflicts_total",
			Help: "Total number of optimistic-lock conflicts on session updates.",
		}),
		ZoneSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_zone_saves_total",
			Help: "Total number of zone selections saved.",
		}, []string{"zone_type"}),
		ZoneRemovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_zone_removals_total",
			Help: "Total number of zone selections removed.",
		}, []string{"zone_type"}),
		VehicleSwitchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_vehicle_switches_total",
			Help: "Total number of vehicle category or view changes.",
		}, []string{"mode"}),
		ZonesPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "configurator_zones_pruned_total",
			Help: "Total number of orphaned selections pruned after a vehicle switch.",
		}),
		JobZoneCommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_job_zone_commits_total",
			Help: "Total number of job zone commits.",
		}, []string{"status"}),

		// Assets
		AssetLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_asset_loads_total",
			Help: "Total number of vehicle model loads by outcome.",
		}, []string{"outcome"}),
		AssetFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "configurator_asset_fetch_duration_seconds",
			Help:    "Vehicle model download duration in seconds.",
			Buckets: fetchDurationBuckets,
		}),
		AssetCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "configurator_asset_circuit_breaker_state",
			Help: "Asset fetch circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		AssetCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_asset_cache_hits_total",
			Help: "Total asset cache hits.",
		}, []string{"layer"}),
		AssetCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "configurator_asset_cache_misses_total",
			Help: "Total asset cache misses.",
		}, []string{"layer"}),

		// Capability cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "configurator_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "configurator_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		// Catalog
		CatalogZones: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "configurator_catalog_zones",
			Help: "Number of zone definitions loaded per mode.",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.SessionsCreatedTotal,
		m.SessionsActive,
		m.SessionsExpiredTotal,
		m.SessionConflictsTotal,
		m.ZoneSavesTotal,
		m.ZoneRemovalsTotal,
		m.VehicleSwitchesTotal,
		m.ZonesPrunedTotal,
		m.JobZoneCommitsTotal,
		m.AssetLoadsTotal,
		m.AssetFetchDuration,
		m.AssetCircuitBreaker,
		m.AssetCacheHitsTotal,
		m.AssetCacheMissesTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.CatalogZones,
	)

	return m
}

// --- Recording helpers ---
//
// All helpers tolerate a nil receiver so components can run without metrics.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated(mode string) {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.WithLabelValues(mode).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionDeleted records a session being discarded by its owner.
func (m *Metrics) RecordSessionDeleted() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordSessionsExpired records sessions removed by the sweeper.
func (m *Metrics) RecordSessionsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsExpiredTotal.Add(float64(n))
	m.SessionsActive.Sub(float64(n))
}

// RecordSessionConflict records an optimistic-lock conflict.
func (m *Metrics) RecordSessionConflict() {
	if m == nil {
		return
	}
	m.SessionConflictsTotal.Inc()
}

// RecordZoneSave records a saved zone selection.
func (m *Metrics) RecordZoneSave(zoneType string) {
	if m == nil {
		return
	}
	m.ZoneSavesTotal.WithLabelValues(zoneType).Inc()
}

// RecordZoneRemoval records a removed zone selection.
func (m *Metrics) RecordZoneRemoval(zoneType string) {
	if m == nil {
		return
	}
	m.ZoneRemovalsTotal.WithLabelValues(zoneType).Inc()
}

// RecordVehicleSwitch records a vehicle change and any pruned selections.
func (m *Metrics) RecordVehicleSwitch(mode string, pruned int) {
	if m == nil {
		return
	}
	m.VehicleSwitchesTotal.WithLabelValues(mode).Inc()
	if pruned > 0 {
		m.ZonesPrunedTotal.Add(float64(pruned))
	}
}

// RecordJobZoneCommit records a job zone commit with status success,
// replayed or error.
func (m *Metrics) RecordJobZoneCommit(status string) {
	if m == nil {
		return
	}
	m.JobZoneCommitsTotal.WithLabelValues(status).Inc()
}

// RecordAssetLoad records a model load outcome (loaded, failed, stale).
func (m *Metrics) RecordAssetLoad(outcome string) {
	if m == nil {
		return
	}
	m.AssetLoadsTotal.WithLabelValues(outcome).Inc()
}

// RecordAssetFetch records the duration of one model download.
func (m *Metrics) RecordAssetFetch(duration time.Duration) {
	if m == nil {
		return
	}
	m.AssetFetchDuration.Observe(duration.Seconds())
}

// SetAssetCircuitBreakerState sets the asset fetch breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetAssetCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.AssetCircuitBreaker.Set(state)
}

// RecordAssetCacheHit records an asset cache hit for the given layer
// (record, document).
func (m *Metrics) RecordAssetCacheHit(layer string) {
	if m == nil {
		return
	}
	m.AssetCacheHitsTotal.WithLabelValues(layer).Inc()
}

// RecordAssetCacheMiss records an asset cache miss for the given layer.
func (m *Metrics) RecordAssetCacheMiss(layer string) {
	if m == nil {
		return
	}
	m.AssetCacheMissesTotal.WithLabelValues(layer).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// SetCatalogZones sets the number of zone definitions loaded for a mode.
func (m *Metrics) SetCatalogZones(mode string, count int) {
	if m == nil {
		return
	}
	m.CatalogZones.WithLabelValues(mode).Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler bound to a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
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
