package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Successful model loads",
		},
		[]string{"provider"},
	)

	loadFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "manager",
			Name:      "load_failures_total",
			Help:      "Failed model loads by reason",
		},
		[]string{"reason"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelpilot",
			Subsystem: "manager",
			Name:      "evictions_total",
			Help:      "Models evicted, by scope (cross_provider, same_provider, all)",
		},
		[]string{"scope"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelpilot",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Provider load duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"provider"},
	)

	loadedModels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelpilot",
		Subsystem: "manager",
		Name:      "loaded_models",
		Help:      "Models currently loaded",
	})

	reservedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelpilot",
		Subsystem: "manager",
		Name:      "reserved_bytes",
		Help:      "Memory reserved by loaded and loading models",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadFailuresTotal, evictionsTotal, loadDuration, loadedModels, reservedBytes)
}
