// Package metrics defines the Prometheus metrics exported by the generation
// and cleanup jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all instancegen metrics.
	Namespace = "instancegen"

	// StatusSuccess and StatusFailure label job outcomes.
	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusLocked labels runs skipped because another worker held the lock.
	StatusLocked = "locked"
)

// Metrics holds the job metrics.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDurationSeconds *prometheus.HistogramVec

	InstancesGenerated *prometheus.CounterVec
	InstancesInserted  *prometheus.CounterVec
	InstancesCapped    *prometheus.CounterVec
	InstancesDeleted   *prometheus.CounterVec
	RulesSkipped       *prometheus.CounterVec
}

// New creates and registers the metrics on reg, or on the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "job_runs_total",
				Help:      "Total number of per-organization job runs",
			},
			[]string{"job", "status"},
		),
		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of per-organization job runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"job"},
		),
		InstancesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "instances_generated_total",
				Help:      "Instances produced by expansion before persistence",
			},
			[]string{"organization_id"},
		),
		InstancesInserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "instances_inserted_total",
				Help:      "Instances newly written to storage",
			},
			[]string{"organization_id"},
		),
		InstancesCapped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "instances_capped_total",
				Help:      "Instances dropped because a run exceeded maxInstancesPerRun",
			},
			[]string{"organization_id"},
		),
		InstancesDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "instances_deleted_total",
				Help:      "Instances removed by retention cleanup",
			},
			[]string{"organization_id"},
		),
		RulesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rules_skipped_total",
				Help:      "Recurrence rules skipped during expansion, by reason",
			},
			[]string{"reason"},
		),
	}
}

// ObserveRun records one job run's outcome and duration.
func (m *Metrics) ObserveRun(job, status string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(job, status).Inc()
	m.RunDurationSeconds.WithLabelValues(job).Observe(elapsed.Seconds())
}
