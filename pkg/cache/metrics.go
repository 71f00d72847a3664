package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kawaiiTaiga/project-SABA/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "saba", Subsystem: "cache", Name: name, Help: help, ConstLabels: labels,
		})
	}
	m := &cacheMetrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		sets:      counter("sets_total", "Total number of cache set operations"),
		evictions: counter("evictions_total", "Total number of cache evictions"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "saba", Subsystem: "cache", Name: "size",
			Help: "Current number of entries in cache", ConstLabels: labels,
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_evictions": m.evictions,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}
