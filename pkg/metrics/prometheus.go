// Package metrics exposes the analytics pipeline on Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements repository.Metrics.
type Recorder struct {
	gatherer  prometheus.Gatherer
	processed *prometheus.CounterVec
	errors    *prometheus.CounterVec
	lastPrice *prometheus.GaugeVec
	riskScore *prometheus.GaugeVec
	firings   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	r := &Recorder{
		gatherer: reg,
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowscope_snapshots_processed_total",
			Help: "Snapshots run through the analytics pipeline",
		}, []string{"source", "coin"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowscope_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowscope_last_price",
			Help: "Last traded price per coin",
		}, []string{"coin"}),
		riskScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowscope_risk_score",
			Help: "Latest risk score per coin (0-100)",
		}, []string{"coin"}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowscope_alert_firings_total",
			Help: "Alert rule firings",
		}, []string{"rule", "severity"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowscope_operation_duration_seconds",
			Help:    "Duration of pipeline operations",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
	reg.MustRegister(r.processed, r.errors, r.lastPrice, r.riskScore, r.firings, r.latency)
	return r
}

// Handler serves the registry this recorder was built on.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) RecordProcessed(source, coin string) {
	r.processed.WithLabelValues(source, coin).Inc()
}

func (r *Recorder) RecordError(kind string) { r.errors.WithLabelValues(kind).Inc() }

func (r *Recorder) RecordLastPrice(coin string, price float64) {
	r.lastPrice.WithLabelValues(coin).Set(price)
}

func (r *Recorder) RecordRiskScore(coin string, score float64) {
	r.riskScore.WithLabelValues(coin).Set(score)
}

func (r *Recorder) RecordFiring(ruleID, severity string) {
	r.firings.WithLabelValues(ruleID, severity).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
