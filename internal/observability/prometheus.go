package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/policy-core/permissioncore/internal/domain/cache"
)

// CacheMetrics holds the Prometheus instruments exposing C6's permission
// cache state. Unlike DecisionMetrics (recorded inline on the decision hot
// path), these are GaugeFuncs: the cache already keeps its own atomic
// counters, so the collector just samples them at scrape time instead of
// requiring a second set of writes.
type CacheMetrics struct {
	entries prometheus.GaugeFunc
	hits    prometheus.GaugeFunc
	misses  prometheus.GaugeFunc
}

// NewCacheMetrics registers gauges sampling mgr's lifetime hit/miss counters
// and current entry count with reg.
func NewCacheMetrics(reg prometheus.Registerer, mgr *cache.Manager) *CacheMetrics {
	return &CacheMetrics{
		entries: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "policycore",
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Number of principals currently cached",
			},
			func() float64 { return float64(mgr.Stats().Size) },
		),
		hits: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "policycore",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Lifetime count of cache lookups served without a rebuild",
			},
			func() float64 { return float64(mgr.Stats().Hits) },
		),
		misses: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "policycore",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Lifetime count of cache lookups that triggered a rebuild",
			},
			func() float64 { return float64(mgr.Stats().Misses) },
		),
	}
}

// NewRegistry builds a Prometheus registry carrying the standard Go runtime
// and process collectors, the way the teacher's HTTP transport wires
// collectors.NewGoCollector/NewProcessCollector alongside its own metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an http.Handler serving reg's metrics in the Prometheus
// exposition format, for a caller that wants to run a long-lived
// "/metrics" endpoint alongside the CLI's one-shot commands.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
