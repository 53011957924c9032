// Package metrics exposes the proxy's Prometheus gauges/counters and
// runs the Metric Reporter: a background job that batches per-query
// execution records, aggregates them by SQL fingerprint every
// interval, and ships the aggregates to the admin service. It plays
// the same two roles the source proxy split across sys_metrics.rs
// (Prometheus exporter) and sys_assistant_client.rs's
// enable_metric_writing_job (the aggregation/POST loop).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysqlcacheproxy_query_total",
			Help: "Total number of queries classified by the proxy",
		},
		[]string{"cached"},
	)

	QueryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mysqlcacheproxy_query_latency_seconds",
			Help:    "End-to-end query latency as observed by the proxy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cached"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mysqlcacheproxy_cache_hits_total",
			Help: "Total number of requests answered directly from cache",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mysqlcacheproxy_cache_misses_total",
			Help: "Total number of cacheable requests that missed the cache",
		},
	)

	RuleCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mysqlcacheproxy_cache_rule_count",
			Help: "Number of enabled cache rules in the current rule table snapshot",
		},
	)

	once sync.Once
)

// Init registers every metric with the default Prometheus registry.
// Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(QueryLatency)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(RuleCount)
	})
}

// Handler returns the HTTP handler to mount at the metrics expose
// port's "/metrics" path.
func Handler() http.Handler {
	return promhttp.Handler()
}
