package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/tenantauth/pkg/permcache"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

const namespace = "tenantauth"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	DecisionsTotal *prometheus.CounterVec
	TokensTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// creates a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"check", "allowed", "reason"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_validations_total",
				Help:      "Total number of token validations by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.TokensTotal,
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecision counts an authorization decision
func (m *Metrics) RecordDecision(check string, allowed bool, reason string) {
	m.DecisionsTotal.WithLabelValues(check, strconv.FormatBool(allowed), reason).Inc()
}

// RecordToken counts a token validation outcome
func (m *Metrics) RecordToken(outcome string) {
	m.TokensTotal.WithLabelValues(outcome).Inc()
}

// RegisterCacheStats exports permission cache statistics read from stats at scrape time
func (m *Metrics) RegisterCacheStats(stats func() permcache.Stats) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permission_cache",
			Name:      "hits_total",
			Help:      "Permission cache hits",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permission_cache",
			Name:      "misses_total",
			Help:      "Permission cache misses",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permission_cache",
			Name:      "evictions_total",
			Help:      "Permission cache entries evicted to stay within capacity",
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permission_cache",
			Name:      "expired_total",
			Help:      "Permission cache entries removed after their TTL",
		}, func() float64 { return float64(stats().Expired) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "permission_cache",
			Name:      "entries",
			Help:      "Current number of cached permission contexts",
		}, func() float64 { return float64(stats().Size) }),
	)
}

// RegisterRouterStats exports tenant pool statistics read from stats at scrape time
func (m *Metrics) RegisterRouterStats(stats func() tenant.Stats) {
	counter := func(name, help string, read func(tenant.Stats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant_pools",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stats())) })
	}

	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tenant_pools",
			Name:      "active",
			Help:      "Open tenant connection pools",
		}, func() float64 { return float64(stats().Active) }),
		counter("created_total", "Tenant pools created", func(s tenant.Stats) int64 { return s.Created }),
		counter("evicted_total", "Tenant pools closed to stay within the pool limit", func(s tenant.Stats) int64 { return s.Evicted }),
		counter("recycled_total", "Tenant pools closed for age or a route change", func(s tenant.Stats) int64 { return s.Recycled }),
		counter("idle_closed_total", "Tenant pools closed after sitting idle", func(s tenant.Stats) int64 { return s.IdleClosed }),
		counter("failed_total", "Tenant pool creation failures", func(s tenant.Stats) int64 { return s.Failed }),
	)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled by
// their mux route template so tenant ids never become label values.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
