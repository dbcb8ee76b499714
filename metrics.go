package schemaregistry

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"
)

type cacheMetrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	m := &cacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `schemaregistry`,
			Subsystem: `encoding_cache`,
			Name:      `hits_total`,
			Help:      `Encoding id lookups served from the cache.`,
		}, []string{`group`}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `schemaregistry`,
			Subsystem: `encoding_cache`,
			Name:      `misses_total`,
			Help:      `Encoding id lookups resolved through the registry.`,
		}, []string{`group`}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: `schemaregistry`,
			Subsystem: `encoding_cache`,
			Name:      `fetch_failures_total`,
			Help:      `Failed encoding id resolutions.`,
		}, []string{`group`}),
	}

	if reg == nil {
		return m
	}

	m.hits = register(reg, m.hits)
	m.misses = register(reg, m.misses)
	m.failures = register(reg, m.failures)

	return m
}

// register returns the already registered collector when several caches share a registerer.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}

	return c
}
