package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes recorded by RecordCacheLookup.
const (
	OutcomeHit         = "hit"
	OutcomeMiss        = "miss"
	OutcomeBypass      = "bypass"
	OutcomeDisabled    = "disabled"
	OutcomeUnavailable = "unavailable"
)

// PrometheusMetrics wraps the prometheus collectors for the API
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Cache
	cacheLookupsTotal *prometheus.CounterVec
	storeErrorsTotal  *prometheus.CounterVec
	resolveDuration   *prometheus.HistogramVec
	produceErrors     prometheus.Counter

	// HTTP
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	rateLimited     prometheus.Counter

	// Circuit breaker
	circuitBreakerState      prometheus.Gauge
	circuitBreakerTripsTotal *prometheus.CounterVec
}

// Default histogram buckets (in milliseconds)
var defaultBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

var promMetrics atomic.Pointer[PrometheusMetrics]

// InitPrometheus initializes the Prometheus metrics subsystem. Calling it
// again replaces the registry.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache-aside resolutions by outcome",
			},
			[]string{"outcome"},
		),

		storeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_store_errors_total",
				Help:      "Backing store failures by operation",
			},
			[]string{"op"},
		),

		resolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_resolve_duration_milliseconds",
				Help:      "Duration of cache-aside resolutions in milliseconds",
				Buckets:   buckets,
			},
			[]string{"origin"},
		),

		produceErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Data provider failures surfaced to callers",
			},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_milliseconds",
				Help:      "HTTP request duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"route"},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of in-flight HTTP requests",
			},
		),

		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),

		circuitBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_circuit_breaker_state",
				Help:      "Store circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
		),

		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_circuit_breaker_transitions_total",
				Help:      "Store circuit breaker state transitions",
			},
			[]string{"to"},
		),
	}

	registry.MustRegister(
		pm.cacheLookupsTotal,
		pm.storeErrorsTotal,
		pm.resolveDuration,
		pm.produceErrors,
		pm.requestsTotal,
		pm.requestDuration,
		pm.activeRequests,
		pm.rateLimited,
		pm.circuitBreakerState,
		pm.circuitBreakerTripsTotal,
	)

	promMetrics.Store(pm)
}

// RecordCacheLookup counts one resolution with the given outcome
func RecordCacheLookup(outcome string) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordStoreError counts a failed store operation (acquire, get, set, release)
func RecordStoreError(op string) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.storeErrorsTotal.WithLabelValues(op).Inc()
}

// RecordResolveDuration observes the duration of one resolution
func RecordResolveDuration(origin string, durationMs float64) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.resolveDuration.WithLabelValues(origin).Observe(durationMs)
}

// RecordProviderError counts a data provider failure
func RecordProviderError() {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.produceErrors.Inc()
}

// RecordHTTPRequest records a served request
func RecordHTTPRequest(route string, code int, durationMs float64) {
	pm := promMetrics.Load()
	if pm == nil {
		return
	}
	pm.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	pm.requestDuration.WithLabelValues(route).Observe(durationMs)
}

// IncActiveRequests increments the in-flight request gauge
func IncActiveRequests() {
	if pm := promMetrics.Load(); pm != nil {
		pm.activeRequests.Inc()
	}
}

// DecActiveRequests decrements the in-flight request gauge
func DecActiveRequests() {
	if pm := promMetrics.Load(); pm != nil {
		pm.activeRequests.Dec()
	}
}

// RecordRateLimited counts a request rejected with 429
func RecordRateLimited() {
	if pm := promMetrics.Load(); pm != nil {
		pm.rateLimited.Inc()
	}
}

// SetCircuitBreakerState publishes the store breaker state
func SetCircuitBreakerState(state int) {
	if pm := promMetrics.Load(); pm != nil {
		pm.circuitBreakerState.Set(float64(state))
	}
}

// RecordCircuitBreakerTransition counts a breaker state change
func RecordCircuitBreakerTransition(toState string) {
	if pm := promMetrics.Load(); pm != nil {
		pm.circuitBreakerTripsTotal.WithLabelValues(toState).Inc()
	}
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	pm := promMetrics.Load()
	if pm == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
