// Package metrics exposes batch outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pocketfolio/billing-engine/billing"
)

type Recorder struct {
	registry *prometheus.Registry
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

// NewRecorder registers the billing collectors on a fresh registry together
// with the Go and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_batch_items_total",
			Help: "Entities processed by batch operations, by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_batch_duration_seconds",
			Help:    "Wall time of batch operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_batch_runs_total",
			Help: "Batch operation runs, by whether they were cancelled.",
		}, []string{"operation", "cancelled"}),
	}
	reg.MustRegister(
		r.items,
		r.duration,
		r.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Record adds one batch report.
func (r *Recorder) Record(report billing.Report) {
	for _, item := range report.Items {
		r.items.WithLabelValues(report.Operation, string(item.Outcome)).Inc()
	}
	r.duration.WithLabelValues(report.Operation).Observe(report.Duration.Seconds())
	cancelled := "false"
	if report.Cancelled {
		cancelled = "true"
	}
	r.runs.WithLabelValues(report.Operation, cancelled).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
