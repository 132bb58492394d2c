// Package metrics registers the aggregator's Prometheus instrumentation:
// cache hit/miss counters, provider call latency/errors, circuit trips, and
// loop iteration duration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the aggregator emits.
type Registry struct {
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	ProviderCallDuration *prometheus.HistogramVec
	ProviderCallErrors   *prometheus.CounterVec
	CircuitTrips         *prometheus.CounterVec

	LoopDuration *prometheus.HistogramVec
}

// NewRegistry builds every metric and registers it with Prometheus's default
// registerer, so it can be called only once per process.
func NewRegistry() *Registry {
	r := &Registry{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_cache_hits_total",
			Help: "Cache reads that found a value, by key class.",
		}, []string{"key_class"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_cache_misses_total",
			Help: "Cache reads that found nothing, by key class.",
		}, []string{"key_class"}),
		ProviderCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregator_provider_call_duration_seconds",
			Help:    "Duration of outbound provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		ProviderCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_provider_call_errors_total",
			Help: "Outbound provider calls that returned an error, by provider and error kind.",
		}, []string{"provider", "kind"}),
		CircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_circuit_trips_total",
			Help: "Times a provider's cache-backed circuit breaker was tripped.",
		}, []string{"provider"}),
		LoopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aggregator_loop_iteration_duration_seconds",
			Help:    "Duration of one orchestrator loop iteration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
	}

	prometheus.MustRegister(
		r.CacheHits, r.CacheMisses,
		r.ProviderCallDuration, r.ProviderCallErrors,
		r.CircuitTrips, r.LoopDuration,
	)
	return r
}

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
