// Package metrics exposes the supervisor's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the supervisor's collectors. All vectors are labelled by
// cluster name.
type Metrics struct {
	JobsQueued    *prometheus.CounterVec
	JobsAdmitted  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsRunning   *prometheus.GaugeVec

	InitRetries *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"hpc"}

	return &Metrics{
		JobsQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpcgate",
			Name:      "jobs_queued_total",
			Help:      "Jobs pushed onto an admission queue.",
		}, labels),
		JobsAdmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpcgate",
			Name:      "jobs_admitted_total",
			Help:      "Jobs admitted to a cluster's run pool.",
		}, labels),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpcgate",
			Name:      "jobs_completed_total",
			Help:      "Jobs that ended successfully.",
		}, labels),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpcgate",
			Name:      "jobs_failed_total",
			Help:      "Jobs that ended in failure or were cancelled.",
		}, labels),
		JobsRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hpcgate",
			Name:      "jobs_running",
			Help:      "Jobs currently holding a run-pool slot.",
		}, labels),
		InitRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpcgate",
			Name:      "job_init_retries_total",
			Help:      "Workspace initialization attempts that were retried.",
		}, labels),
	}
}
