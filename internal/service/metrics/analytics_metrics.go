// Package metrics instruments the read API per endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type APIMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
	hits    *prometheus.CounterVec
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowscope",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of analytics endpoints",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowscope",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by analytics endpoint",
		}, []string{"endpoint"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowscope",
			Subsystem: "api",
			Name:      "cache_hits_total",
			Help:      "Report responses served from cache",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.latency, m.errors, m.hits)
	}
	return m
}

// Observe records one call; a nil receiver is a no-op.
func (m *APIMetrics) Observe(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(endpoint).Inc()
	}
}

func (m *APIMetrics) CacheHit(endpoint string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(endpoint).Inc()
}
