// Package backtest drives a policy through a historical dataset: at every
// timestamp it refreshes the live parameters, projects the target weights onto the
// constraints and lets the resulting portfolio drift with realized returns.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/historical"
	"github.com/aristath/sentinel-cvx/internal/modules/optimization"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config describes one backtest.
type Config struct {
	// Target holds the desired asset weights (cash excluded).
	Target []float64
	// InitialValue is the starting portfolio value; the portfolio starts all cash.
	InitialValue float64
	// From and To bound the simulated timestamps. Zero values are open; an open
	// From starts after the warm-up rows the policy needs (Policy.MinHistory).
	From time.Time
	To   time.Time
}

// Step is the outcome of one simulated timestamp.
type Step struct {
	Time      time.Time
	Weights   []float64
	Trades    []float64
	Value     float64
	Converged bool
	Violated  []string
}

// Result is the outcome of one run.
type Result struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []Step
	FinalValue float64
	// Snapshot is the msgpack encoding of the policy parameters after the last step.
	Snapshot []byte
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	SaveRun(ctx context.Context, run historical.RunRecord) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder persists a summary of every finished run.
func WithRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// Runner executes backtests.
type Runner struct {
	log      zerolog.Logger
	recorder RunRecorder
}

// NewRunner creates a runner.
func NewRunner(log zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{log: log.With().Str("component", "backtest").Logger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run simulates policy over the dataset. The policy must be fresh: Run calls its
// PreEvaluation and finishes it on return.
func (r *Runner) Run(ctx context.Context, ds *historical.Dataset, policy *optimization.Policy, cfg Config) (*Result, error) {
	start := time.Now()
	res, err := r.run(ctx, ds, policy, cfg)
	backtestDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		backtestRuns.WithLabelValues("ok").Inc()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		backtestRuns.WithLabelValues("cancelled").Inc()
	default:
		backtestRuns.WithLabelValues("error").Inc()
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, ds *historical.Dataset, policy *optimization.Policy, cfg Config) (*Result, error) {
	if ds == nil || policy == nil {
		return nil, fmt.Errorf("backtest needs a dataset and a policy")
	}
	n := ds.Universe.NumAssets()
	if len(cfg.Target) != n {
		return nil, fmt.Errorf("target has %d weights for %d assets", len(cfg.Target), n)
	}
	if !(cfg.InitialValue > 0) || math.IsInf(cfg.InitialValue, 0) {
		return nil, fmt.Errorf("initial value must be positive, got %g", cfg.InitialValue)
	}

	timeline, err := ds.Timeline(cfg.From, cfg.To)
	if err != nil {
		return nil, err
	}
	if cfg.From.IsZero() {
		if timeline, err = SkipWarmup(timeline, policy.MinHistory()); err != nil {
			return nil, err
		}
	}
	if err := policy.PreEvaluation(ds.Universe, timeline); err != nil {
		return nil, fmt.Errorf("policy setup: %w", err)
	}
	defer policy.Finish()

	res := &Result{ID: uuid.New().String(), StartedAt: time.Now().UTC()}
	log := r.log.With().Str("run_id", res.ID).Logger()
	log.Info().
		Int("steps", timeline.Len()).
		Int("assets", n).
		Int("horizon", policy.Horizon()).
		Msg("Starting backtest")

	current := make([]float64, ds.Universe.Len())
	current[ds.Universe.CashIndex()] = 1
	value := cfg.InitialValue

	for i := 0; i < timeline.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := timeline.At(i)

		if err := policy.ValuesInTime(t, ds.ContextAt(t, value, 0)); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		sol, err := policy.Solve(current, cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("step %d solve: %w", i, err)
		}
		if len(sol.Violated) > 0 {
			log.Warn().Time("t", t).Strs("violated", sol.Violated).Msg("Solution violates constraints")
		}

		realized, ok := ds.ReturnsAt(t)
		if !ok {
			return nil, fmt.Errorf("step %d: no returns at %s", i, t.Format(time.RFC3339))
		}
		current, value = drift(sol.WPlus, realized, value)

		res.Steps = append(res.Steps, Step{
			Time:      t,
			Weights:   sol.WPlus,
			Trades:    sol.Z,
			Value:     value,
			Converged: sol.Converged,
			Violated:  sol.Violated,
		})
		backtestSteps.Inc()
	}

	snap, err := policy.Snapshot().Marshal()
	if err != nil {
		return nil, err
	}
	res.Snapshot = snap
	res.FinalValue = value
	res.FinishedAt = time.Now().UTC()

	if r.recorder != nil {
		err := r.recorder.SaveRun(ctx, historical.RunRecord{
			ID:         res.ID,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
			Steps:      len(res.Steps),
			FinalValue: res.FinalValue,
		})
		if err != nil {
			return nil, err
		}
	}

	log.Info().Float64("final_value", value).Msg("Backtest finished")
	return res, nil
}

// SkipWarmup drops the first n timestamps so that the first step sees n past rows.
func SkipWarmup(timeline domain.Timeline, n int) (domain.Timeline, error) {
	if n <= 0 {
		return timeline, nil
	}
	if timeline.Len() <= n {
		return domain.Timeline{}, fmt.Errorf("%w: %d timestamps do not cover a warm-up of %d", historical.ErrNoData, timeline.Len(), n)
	}
	return domain.NewTimeline(timeline.Times()[n:])
}

// drift applies asset returns to post-trade weights (cash earns nothing) and returns
// the drifted weights and the new portfolio value.
func drift(weights, returns []float64, value float64) ([]float64, float64) {
	growth := 0.0
	grown := make([]float64, len(weights))
	for i, w := range weights {
		g := w
		if i < len(returns) {
			g = w * (1 + returns[i])
		}
		grown[i] = g
		growth += g
	}
	if growth == 0 {
		return grown, 0
	}
	for i := range grown {
		grown[i] /= growth
	}
	return grown, value * growth
}
