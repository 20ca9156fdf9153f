package constraints

import (
	"fmt"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
)

// DefaultCollateralFactor is the cash consumed per unit of short exposure by LongCash.
const DefaultCollateralFactor = 2.0

// LongOnly requires non-negative post-trade asset weights.
type LongOnly struct{ base }

// NewLongOnly creates a long-only constraint.
func NewLongOnly() *LongOnly {
	return &LongOnly{base: newBase("long_only", Weights)}
}

// Compile returns w_plus[assets] >= 0.
func (c *LongOnly) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	return cvx.NewGreaterEq(c.name, w, cvx.Const(0)), nil
}

// LeverageLimit bounds the l1 norm of post-trade asset weights.
type LeverageLimit struct {
	base
	limit *estimator.ParameterEstimator
}

// NewLeverageLimit creates a leverage limit; limit may be constant or vary in time.
func NewLeverageLimit(limit estimator.Source) *LeverageLimit {
	c := &LeverageLimit{
		base:  newBase("leverage_limit", Weights),
		limit: estimator.NewParameterEstimator("leverage_limit.limit", limit),
	}
	c.Add(c.limit)
	return c
}

// PreEvaluation allocates the limit and checks that it is a scalar.
func (c *LeverageLimit) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := c.base.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	return requireScalar(c.name, c.limit.Parameter())
}

// Compile returns norm1(w_plus[assets]) <= limit.
func (c *LeverageLimit) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	return cvx.NewLessEq(c.name, cvx.Norm1(w), cvx.ParamExpr(c.limit.Parameter())), nil
}

// LongCash requires the cash left after posting collateral for short positions to be
// non-negative: cash - factor * sum(neg(w_plus[assets])) >= 0.
type LongCash struct {
	base
	factor float64
}

// NewLongCash creates the constraint with the given collateral factor. A non-positive
// factor selects DefaultCollateralFactor.
func NewLongCash(collateralFactor float64) *LongCash {
	if collateralFactor <= 0 {
		collateralFactor = DefaultCollateralFactor
	}
	return &LongCash{base: newBase("long_cash", Weights), factor: collateralFactor}
}

// CollateralFactor returns the configured factor.
func (c *LongCash) CollateralFactor() float64 { return c.factor }

// Compile returns w_plus[cash] - factor * sum(neg(w_plus[assets])) >= 0.
func (c *LongCash) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	cash, err := c.weightCash(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	realCash := cvx.Sub(cash, cvx.Scale(cvx.Sum(cvx.NegPart(w)), c.factor))
	return cvx.NewGreaterEq(c.name, realCash, cvx.Const(0)), nil
}

// DollarNeutral requires the post-trade cash weight to be exactly one, so that asset
// longs and shorts offset each other.
type DollarNeutral struct{ base }

// NewDollarNeutral creates the constraint.
func NewDollarNeutral() *DollarNeutral {
	return &DollarNeutral{base: newBase("dollar_neutral", Weights)}
}

// Compile returns w_plus[cash] == 1.
func (c *DollarNeutral) Compile(vars cvx.Variables) (cvx.Relation, error) {
	cash, err := c.weightCash(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	return cvx.NewEqual(c.name, cash, cvx.Const(1)), nil
}

// WeightBound is an elementwise bound on post-trade asset weights (MaxWeights / MinWeights).
type WeightBound struct {
	base
	direction Direction
	limit     *estimator.ParameterEstimator
}

// NewMaxWeights bounds every asset weight from above by a scalar or per-asset limit.
func NewMaxWeights(limit estimator.Source) *WeightBound {
	return newWeightBound("max_weights", AtMost, limit)
}

// NewMinWeights bounds every asset weight from below by a scalar or per-asset limit.
func NewMinWeights(limit estimator.Source) *WeightBound {
	return newWeightBound("min_weights", AtLeast, limit)
}

func newWeightBound(name string, direction Direction, limit estimator.Source) *WeightBound {
	c := &WeightBound{
		base:      newBase(name, Weights),
		direction: direction,
		limit:     estimator.NewParameterEstimator(name+".limit", limit),
	}
	c.Add(c.limit)
	return c
}

// PreEvaluation allocates the limit and checks its shape against the universe.
func (c *WeightBound) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := c.base.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	return requireAssetVector(c.name, c.limit.Parameter(), universe)
}

// Compile returns w_plus[assets] <= limit or >= limit.
func (c *WeightBound) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	return c.direction.relation(c.name, w, cvx.ParamExpr(c.limit.Parameter())), nil
}

// Direction selects the comparison of a bound constraint.
type Direction int

const (
	// AtMost is an upper bound (<=).
	AtMost Direction = iota
	// AtLeast is a lower bound (>=).
	AtLeast
)

func (d Direction) String() string {
	if d == AtLeast {
		return "at_least"
	}
	return "at_most"
}

func (d Direction) relation(name string, left, right cvx.Expr) cvx.Relation {
	if d == AtLeast {
		return cvx.NewGreaterEq(name, left, right)
	}
	return cvx.NewLessEq(name, left, right)
}

// inactiveBound is the non-binding sentinel for the direction.
func (d Direction) inactiveBound() float64 {
	if d == AtLeast {
		return -inactiveWeightBound
	}
	return inactiveWeightBound
}

func (d Direction) validate() error {
	if d != AtMost && d != AtLeast {
		return fmt.Errorf("unknown bound direction %d", int(d))
	}
	return nil
}
