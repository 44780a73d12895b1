// Package metrics exposes scheduler counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phylobuild"

// Collectors groups every metric the scheduler updates. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	// transitions counts task state transitions.
	// Labels: kind, to (target state)
	transitions *prometheus.CounterVec

	// jobsSubmitted counts accepted job submissions.
	// Labels: kind
	jobsSubmitted *prometheus.CounterVec

	// jobsFinished counts jobs reaching a terminal status.
	// Labels: kind, status (succeeded, failed)
	jobsFinished *prometheus.CounterVec

	// submitRejections counts backend refusals.
	// Labels: permanent (true, false)
	submitRejections *prometheus.CounterVec

	// cacheHits counts tasks completed from stored results.
	// Labels: kind
	cacheHits *prometheus.CounterVec

	jobDuration *prometheus.HistogramVec

	coresInUse  prometheus.Gauge
	coresBudget prometheus.Gauge
}

// NewCollectors registers all metrics on reg. Passing a fresh registry keeps
// tests isolated from the process-wide default.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Task state transitions by kind and target state",
		}, []string{"kind", "to"}),
		jobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "submitted_total",
			Help:      "Jobs accepted by the backend",
		}, []string{"kind"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Jobs reaching a terminal status",
		}, []string{"kind", "status"}),
		submitRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "submit_rejections_total",
			Help:      "Job submissions refused by the backend",
		}, []string{"permanent"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "cache_hits_total",
			Help:      "Tasks completed from previously stored results",
		}, []string{"kind"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall time from submission to terminal status",
			Buckets:   []float64{0.1, 1, 10, 60, 300, 1800, 3600, 4 * 3600, 24 * 3600},
		}, []string{"kind"}),
		coresInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cores_in_use",
			Help:      "Cores held by submitted and running jobs",
		}),
		coresBudget: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cores_budget",
			Help:      "Configured core budget",
		}),
	}
}

func (c *Collectors) Transition(kind, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(kind, to).Inc()
}

func (c *Collectors) JobSubmitted(kind string) {
	if c == nil {
		return
	}
	c.jobsSubmitted.WithLabelValues(kind).Inc()
}

func (c *Collectors) JobFinished(kind, status string, seconds float64) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(kind, status).Inc()
	c.jobDuration.WithLabelValues(kind).Observe(seconds)
}

func (c *Collectors) SubmitRejected(permanent bool) {
	if c == nil {
		return
	}
	label := "false"
	if permanent {
		label = "true"
	}
	c.submitRejections.WithLabelValues(label).Inc()
}

func (c *Collectors) CacheHit(kind string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(kind).Inc()
}

func (c *Collectors) SetCores(inUse, budget int) {
	if c == nil {
		return
	}
	c.coresInUse.Set(float64(inUse))
	c.coresBudget.Set(float64(budget))
}

// Handler serves the metrics of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
