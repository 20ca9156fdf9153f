package backtest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// backtestSteps counts simulated timestamps across all runs.
	backtestSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "backtest",
		Name:      "steps_total",
		Help:      "Total simulated backtest timestamps",
	})

	// backtestRuns counts finished runs.
	// Labels: status (ok, error, cancelled)
	backtestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "backtest",
		Name:      "runs_total",
		Help:      "Total backtest runs by outcome",
	}, []string{"status"})

	// backtestDuration measures the wall time of a run.
	backtestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "backtest",
		Name:      "run_duration_seconds",
		Help:      "Backtest run wall time in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)
