package optimization

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepsEvaluated counts policy ValuesInTime calls, one per timestamp.
	stepsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "policy",
		Name:      "steps_evaluated_total",
		Help:      "Total timestamps for which live parameters were refreshed",
	})

	// relationsCompiled counts relations produced at policy setup.
	// Labels: operand (weights, trades)
	relationsCompiled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "policy",
		Name:      "relations_compiled_total",
		Help:      "Total constraint relations compiled",
	}, []string{"operand"})

	// violationsFound counts relations violated by a checked point.
	// Labels: constraint
	violationsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "policy",
		Name:      "violations_total",
		Help:      "Total constraint violations found when checking candidate weights",
	}, []string{"constraint"})

	// solveDuration measures the penalty solver runtime.
	// Labels: status (converged, not_converged, error)
	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel_cvx",
		Subsystem: "solver",
		Name:      "duration_seconds",
		Help:      "Penalty solver runtime in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"status"})
)
