package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Jobs entering each state; rejected counts full-queue submissions",
		},
		[]string{"state"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelpilot",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Time from dispatch to a terminal state",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "pipeline",
			Name:      "frames_total",
			Help:      "Video frames analysed, by outcome",
		},
		[]string{"outcome"},
	)

	queuedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelpilot",
			Subsystem: "pipeline",
			Name:      "queued_jobs",
			Help:      "Jobs waiting for a worker",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, framesTotal, queuedJobs)
}
