package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ToolchainRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_toolchain_runs_total",
			Help: "Total number of external toolchain invocations",
		},
		[]string{"result"},
	)

	DevRecompute = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiln_dev_recompute_total",
			Help: "Dev server recomputations by outcome (applied, failed, superseded)",
		},
		[]string{"result"},
	)

	ReloadClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiln_reload_clients",
			Help: "Number of connected live-reload clients",
		},
	)
)
