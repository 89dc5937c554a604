// Package metrics exposes Prometheus counters for the bridge.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests and one-off CLI commands.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "meshbridge"

// Collector owns a private registry.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups       *prometheus.CounterVec
	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	materializations   *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers all metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss).",
		}, []string{"result"}),
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "generations_total",
			Help:      "Resolved generations by source and outcome.",
		}, []string{"source", "outcome"}),
		generationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time to resolve a generation, including remote calls.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		materializations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "materializations_total",
			Help:      "Materialized assets by transport.",
		}, []string{"transport"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CacheLookup counts one cache lookup.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// Generation records a resolved (or failed) generation.
func (c *Collector) Generation(source string, err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.generations.WithLabelValues(source, outcome).Inc()
	if err == nil {
		c.generationDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

// Materialized counts one asset written via transport.
func (c *Collector) Materialized(transport string) {
	if c == nil {
		return
	}
	c.materializations.WithLabelValues(transport).Inc()
}

// HTTPRequest records one served request.
func (c *Collector) HTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
