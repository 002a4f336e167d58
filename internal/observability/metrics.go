package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	permissionChecks *prometheus.CounterVec
	cacheRefreshes   *prometheus.CounterVec
	countQueries     prometheus.Histogram
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liana_http_requests_total",
		Help: "Number of HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liana_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	permissionChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liana_permission_checks_total",
		Help: "Permission check verdicts by kind.",
	}, []string{"kind", "verdict"})
	cacheRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liana_permission_cache_refreshes_total",
		Help: "Permission cache refreshes by trigger source and outcome.",
	}, []string{"source", "outcome"})
	countQueries := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "liana_record_count_duration_seconds",
		Help:    "Duration of record count queries issued for conditional actions.",
		Buckets: prometheus.DefBuckets,
	})
	registry.MustRegister(requests, duration, permissionChecks, cacheRefreshes, countQueries)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		permissionChecks: permissionChecks,
		cacheRefreshes:   cacheRefreshes,
		countQueries:     countQueries,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObservePermissionCheck counts one permission verdict.
func (m *Metrics) ObservePermissionCheck(kind string, allowed bool) {
	if m == nil {
		return
	}
	verdict := "denied"
	if allowed {
		verdict = "allowed"
	}
	m.permissionChecks.WithLabelValues(kind, verdict).Inc()
}

// ObserveCacheRefresh counts one permission cache refresh attempt.
func (m *Metrics) ObserveCacheRefresh(source string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.cacheRefreshes.WithLabelValues(source, outcome).Inc()
}

// ObserveCountQuery records the duration of one record count query.
func (m *Metrics) ObserveCountQuery(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.countQueries.Observe(elapsed.Seconds())
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
