// Package metrics exports the cache facade's counters as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fraiseql/fraiseql-go/internal/cache"
)

// Source supplies metric snapshots; *cache.Cache satisfies it.
type Source interface {
	Metrics() cache.Metrics
}

// Collector translates facade snapshots into Prometheus metrics on scrape.
// The facade keeps its own counters, so the collector holds no state.
type Collector struct {
	source Source

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	stores        *prometheus.Desc
	errors        *prometheus.Desc
	invalidations *prometheus.Desc
	size          *prometheus.Desc
	hitRate       *prometheus.Desc
	healthy       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector describes the cache metrics under the given namespace.
func NewCollector(namespace string, source Source) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &Collector{
		source:        source,
		hits:          desc("hits_total", "Total cache hits."),
		misses:        desc("misses_total", "Total cache misses."),
		stores:        desc("stores_total", "Total values stored."),
		errors:        desc("errors_total", "Total cache-internal errors recovered from."),
		invalidations: desc("invalidations_total", "Total entries removed by invalidation."),
		size:          desc("entries", "Live entries in the store."),
		hitRate:       desc("hit_rate", "Hits over total lookups."),
		healthy:       desc("healthy", "1 when the cache is warming up or holding a useful hit rate."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.stores
	ch <- c.errors
	ch <- c.invalidations
	ch <- c.size
	ch <- c.hitRate
	ch <- c.healthy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(m.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.Misses))
	ch <- prometheus.MustNewConstMetric(c.stores, prometheus.CounterValue, float64(m.Stores))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(m.Errors))
	ch <- prometheus.MustNewConstMetric(c.invalidations, prometheus.CounterValue, float64(m.Invalidations))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(m.Size))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, m.HitRate())

	healthy := 0.0
	if m.Healthy() {
		healthy = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy)
}
