package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	ClaimConflicts prometheus.Counter
	StaleReclaims  prometheus.Counter
	PendingJobs    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filedock",
			Name:      "jobs_total",
			Help:      "Processing jobs finished, by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "filedock",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filedock",
			Name:      "claim_conflicts_total",
			Help:      "Claims lost to another worker.",
		}),
		StaleReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filedock",
			Name:      "stale_reclaims_total",
			Help:      "Jobs returned to pending after their claim went stale.",
		}),
		PendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "filedock",
			Name:      "pending_jobs",
			Help:      "Jobs currently waiting to be claimed.",
		}),
	}
	reg.MustRegister(m.JobsTotal, m.StageDuration, m.ClaimConflicts, m.StaleReclaims, m.PendingJobs)
	return m
}
