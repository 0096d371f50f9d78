// Package metrics wraps the optional Prometheus collectors a Queue can
// report. Unlike a process-wide metrics singleton, a Recorder belongs to
// one Queue instance — a library must not assume it owns the process's
// only registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the collectors for one queue façade.
type Recorder struct {
	registry *prometheus.Registry

	published *prometheus.CounterVec
	acked     *prometheus.CounterVec
	nacked    *prometheus.CounterVec
	depth     *prometheus.GaugeVec
	pollTime  *prometheus.HistogramVec
}

// New builds a Recorder with its own registry under namespace.
func New(namespace string) *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total messages published.",
		}, []string{"queue"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total messages acknowledged.",
		}, []string{"queue"}),
		nacked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_nacked_total",
			Help:      "Total messages negatively acknowledged.",
		}, []string{"queue"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Last observed queue depth by state.",
		}, []string{"queue", "state"}),
		pollTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of poll round trips.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}

	registry.MustRegister(r.published, r.acked, r.nacked, r.depth, r.pollTime)
	return r
}

// Registry exposes the recorder's registry for callers who want to serve
// /metrics themselves (e.g. via promhttp.HandlerFor).
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordPublished(queue string, n int) {
	r.published.WithLabelValues(queue).Add(float64(n))
}

func (r *Recorder) RecordAcked(queue string) {
	r.acked.WithLabelValues(queue).Inc()
}

func (r *Recorder) RecordNacked(queue string) {
	r.nacked.WithLabelValues(queue).Inc()
}

func (r *Recorder) SetDepth(queue string, total, undelivered int) {
	r.depth.WithLabelValues(queue, "total").Set(float64(total))
	r.depth.WithLabelValues(queue, "undelivered").Set(float64(undelivered))
}

func (r *Recorder) ObservePoll(queue string, d time.Duration) {
	r.pollTime.WithLabelValues(queue).Observe(d.Seconds())
}
