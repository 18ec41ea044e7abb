package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiln_build_count_total",
			Help: "Total number of build passes",
		},
	)

	BuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_build_failed_total",
			Help: "Number of build passes that failed",
		},
		[]string{"error_type"},
	)

	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiln_build_duration_seconds",
			Help:    "Build pass duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	LastBuildEnd = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_last_build_end_timestamp",
			Help: "Unix timestamp of when the last successful build ended",
		},
	)

	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiln_transform_duration_seconds",
			Help:    "Per-asset transform duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"plugin"},
	)
)

func BuildSucceeded(startTime time.Time) {
	BuildCount.Inc()
	BuildDuration.Observe(time.Since(startTime).Seconds())
	LastBuildEnd.SetToCurrentTime()
}

func BuildFailedWith(errorType string) {
	BuildCount.Inc()
	BuildFailed.WithLabelValues(errorType).Inc()
}

func TransformObserved(plugin string, startTime time.Time) {
	TransformDuration.WithLabelValues(plugin).Observe(time.Since(startTime).Seconds())
}
