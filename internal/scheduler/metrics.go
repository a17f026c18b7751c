package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jointracker_scheduler_fires_total",
		Help: "The number of job fires by kind and outcome",
	}, []string{"kind", "outcome"})

	metricJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jointracker_scheduler_jobs",
		Help: "The number of live scheduled jobs by kind",
	}, []string{"kind"})

	metricFireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jointracker_scheduler_fire_duration_seconds",
		Help:    "How long job fires take to run",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
