// Package optimization turns a set of constraints into the relations of a single- or
// multi-period portfolio problem and finds post-trade weights that satisfy them.
package optimization

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/constraints"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/rs/zerolog"
)

// DefaultPenaltyWeight scales squared constraint violations in the solver objective.
const DefaultPenaltyWeight = 1000.0

// ErrNotDCP is returned when a compiled relation does not follow the DCP rules.
var ErrNotDCP = errors.New("relation is not DCP")

// ConstraintFactory builds a fresh constraint set. It is called once per lookahead
// period so that no constraint instance is shared between periods.
type ConstraintFactory func() ([]constraints.Constraint, error)

// Option configures a Policy.
type Option func(*Policy)

// WithHorizon sets the number of lookahead periods. 1 is a single-period policy.
// Solve holds its post-trade weights through every period, so a bound that becomes
// active within the horizon already shapes the current trade.
func WithHorizon(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.horizon = n
		}
	}
}

// WithPenaltyWeight sets the solver penalty weight.
func WithPenaltyWeight(w float64) Option {
	return func(p *Policy) {
		if w > 0 {
			p.penaltyWeight = w
		}
	}
}

// WithBenchmark sets the benchmark weights (assets + cash) used for w_plus_minus_w_bm.
func WithBenchmark(w []float64) Option {
	return func(p *Policy) { p.benchmark = append([]float64(nil), w...) }
}

// WithLogger sets the policy logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Policy) { p.log = log.With().Str("component", "policy").Logger() }
}

type period struct {
	step        int
	vars        cvx.Variables
	constraints []constraints.Constraint
	relations   []cvx.Relation
}

// Policy owns one constraint set and one set of decision variables per period.
type Policy struct {
	horizon       int
	penaltyWeight float64
	benchmark     []float64
	periods       []*period
	universe      domain.Universe
	lifecycle     estimator.Lifecycle
	log           zerolog.Logger
}

// Point is a candidate value of one period's decision variables. Nil fields are
// left unbound.
type Point struct {
	WPlus         []float64
	Z             []float64
	WPlusMinusWBm []float64
}

// NewPolicy builds the constraint sets for every period.
func NewPolicy(factory ConstraintFactory, opts ...Option) (*Policy, error) {
	p := &Policy{
		horizon:       1,
		penaltyWeight: DefaultPenaltyWeight,
		lifecycle:     estimator.NewLifecycle("policy"),
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if factory == nil {
		return nil, fmt.Errorf("policy: nil constraint factory")
	}

	for k := 0; k < p.horizon; k++ {
		set, err := factory()
		if err != nil {
			return nil, fmt.Errorf("policy: build constraints for period %d: %w", k, err)
		}
		for i, c := range set {
			for _, prev := range p.periods {
				for _, other := range prev.constraints {
					if other == c {
						return nil, fmt.Errorf("policy: factory returned constraint %d (%s) twice", i, c.Name())
					}
				}
			}
		}
		p.periods = append(p.periods, &period{step: k, constraints: set})
	}
	return p, nil
}

// Horizon returns the number of periods.
func (p *Policy) Horizon() int { return p.horizon }

// PreEvaluation sets up every constraint, allocates the decision variables and
// compiles every relation once.
func (p *Policy) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if p.benchmark == nil {
		p.benchmark = make([]float64, universe.Len())
		p.benchmark[universe.CashIndex()] = 1
	}
	if len(p.benchmark) != universe.Len() {
		return &estimator.DimensionMismatchError{Name: "policy.benchmark", WantRows: universe.Len(), WantCols: 1, GotRows: len(p.benchmark), GotCols: 1}
	}

	for _, per := range p.periods {
		per.vars = cvx.NewVariables(universe.Len(), p.suffix(per.step))
		per.relations = per.relations[:0]
		for _, c := range per.constraints {
			if err := c.PreEvaluation(universe, timeline); err != nil {
				return fmt.Errorf("policy period %d: %w", per.step, err)
			}
			rel, err := c.Compile(c.Operand().View(per.vars))
			if err != nil {
				return fmt.Errorf("policy period %d: compile %s: %w", per.step, c.Name(), err)
			}
			if err := rel.Validate(); err != nil {
				return fmt.Errorf("policy period %d: %w", per.step, err)
			}
			if !rel.IsDCP() {
				return fmt.Errorf("policy period %d: %s: %w", per.step, rel, ErrNotDCP)
			}
			if p.horizon > 1 {
				rel.Name = rel.Name + p.suffix(per.step)
			}
			per.relations = append(per.relations, rel)
			relationsCompiled.WithLabelValues(c.Operand().String()).Inc()
		}
	}

	p.universe = universe
	p.lifecycle.Start()
	p.log.Debug().
		Int("horizon", p.horizon).
		Int("assets", universe.NumAssets()).
		Int("relations", len(p.Relations())).
		Msg("Policy compiled")
	return nil
}

func (p *Policy) suffix(step int) string {
	if p.horizon == 1 {
		return ""
	}
	return fmt.Sprintf("_%d", step)
}

// ValuesInTime refreshes the live parameters of every period: period k sees the
// same context with MPOStep = k.
func (p *Policy) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	if ctx == nil {
		return fmt.Errorf("policy: nil market context")
	}
	if err := p.lifecycle.Advance(t, 0); err != nil {
		return err
	}
	for _, per := range p.periods {
		stepCtx := ctx.WithMPOStep(per.step)
		for _, c := range per.constraints {
			if err := c.ValuesInTime(t, stepCtx); err != nil {
				return fmt.Errorf("policy period %d at %s: %w", per.step, t.Format(time.RFC3339), err)
			}
		}
	}
	stepsEvaluated.Inc()
	return nil
}

// Relations returns every compiled relation, period by period. The relations are
// the same values at every step; only their parameters change.
func (p *Policy) Relations() []cvx.Relation {
	var out []cvx.Relation
	for _, per := range p.periods {
		out = append(out, per.relations...)
	}
	return out
}

// Variables returns the decision variables of period k.
func (p *Policy) Variables(k int) (cvx.Variables, error) {
	if k < 0 || k >= len(p.periods) {
		return cvx.Variables{}, fmt.Errorf("policy has no period %d", k)
	}
	return p.periods[k].vars, nil
}

// Check evaluates every relation at points (one per period) and returns the names
// of the violated ones.
func (p *Policy) Check(points []Point, tol float64) ([]string, error) {
	if err := p.lifecycle.Ready(); err != nil {
		return nil, err
	}
	if len(points) != len(p.periods) {
		return nil, fmt.Errorf("policy: got %d points for %d periods", len(points), len(p.periods))
	}

	var violated []string
	for k, per := range p.periods {
		v, err := per.check(points[k], tol)
		if err != nil {
			return nil, err
		}
		violated = append(violated, v...)
	}
	return violated, nil
}

// PointFor derives the full decision point from post-trade weights: z = w_plus -
// current and w_plus_minus_w_bm = w_plus - benchmark.
func (p *Policy) PointFor(wPlus, current []float64) (Point, error) {
	n := p.universe.Len()
	if len(wPlus) != n || len(current) != n {
		return Point{}, &estimator.DimensionMismatchError{Name: "policy.point", WantRows: n, WantCols: 1, GotRows: len(wPlus), GotCols: 1}
	}
	pt := Point{
		WPlus:         append([]float64(nil), wPlus...),
		Z:             make([]float64, n),
		WPlusMinusWBm: make([]float64, n),
	}
	for i := range wPlus {
		pt.Z[i] = wPlus[i] - current[i]
		pt.WPlusMinusWBm[i] = wPlus[i] - p.benchmark[i]
	}
	return pt, nil
}

// Snapshot captures the live parameters of every constraint in every period.
func (p *Policy) Snapshot() estimator.Snapshot {
	var params []*estimator.Parameter
	for _, per := range p.periods {
		for _, c := range per.constraints {
			if owner, ok := c.(estimator.ParameterOwner); ok {
				params = append(params, owner.Parameters()...)
			}
		}
	}
	return estimator.TakeSnapshot(params...)
}

// MinHistory returns the number of past observations the constraints of every
// period need before the first step.
func (p *Policy) MinHistory() int {
	n := 0
	for _, per := range p.periods {
		for _, c := range per.constraints {
			n = max(n, estimator.RequiredHistory(c))
		}
	}
	return n
}

// Finish ends the lifecycle of the policy and of every constraint.
func (p *Policy) Finish() {
	for _, per := range p.periods {
		for _, c := range per.constraints {
			if f, ok := c.(estimator.Finisher); ok {
				f.Finish()
			}
		}
	}
	p.lifecycle.Finish()
}
