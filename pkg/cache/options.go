package cache

import (
	"time"

	"github.com/kawaiiTaiga/project-SABA/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	now           func() time.Time
}

// WithMetrics exports cache counters under the component label prefix.
// A nil registry or empty prefix is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback for entries evicted by size or expiry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(opts *cacheOptions[V]) {
		if now != nil {
			opts.now = now
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{now: time.Now}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
