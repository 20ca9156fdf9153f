package constraints

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
)

// DefaultMaxParticipation is the default fraction of market volume a trade may take.
const DefaultMaxParticipation = 0.05

// ParticipationRateLimit caps each trade, in currency units, at a fraction of the
// market volume: |z[assets]| * portfolio_value <= volumes * max_fraction.
type ParticipationRateLimit struct {
	base
	volumes        *estimator.ParameterEstimator
	maxFraction    *estimator.ParameterEstimator
	portfolioValue *estimator.Parameter
}

// NewParticipationRateLimit creates the constraint. Both volumes and maxFraction may
// be constant, vary in time, or vary in time and by asset.
func NewParticipationRateLimit(volumes, maxFraction estimator.Source) *ParticipationRateLimit {
	if maxFraction == nil {
		maxFraction = estimator.Constant(DefaultMaxParticipation)
	}
	c := &ParticipationRateLimit{
		base:        newBase("participation_rate_limit", Trades),
		volumes:     estimator.NewParameterEstimator("participation_rate_limit.volumes", volumes),
		maxFraction: estimator.NewParameterEstimator("participation_rate_limit.max_fraction", maxFraction),
	}
	c.Add(c.volumes, c.maxFraction)
	return c
}

// PreEvaluation allocates the volume, fraction and portfolio value parameters.
func (c *ParticipationRateLimit) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := c.base.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	if err := requireAssetVector(c.name, c.volumes.Parameter(), universe); err != nil {
		return err
	}
	if err := requireAssetVector(c.name, c.maxFraction.Parameter(), universe); err != nil {
		return err
	}
	pv, err := estimator.NewParameter("participation_rate_limit.portfolio_value", estimator.ScalarShape())
	if err != nil {
		return err
	}
	c.portfolioValue = pv
	return nil
}

// ValuesInTime refreshes volumes and fraction and records the current portfolio value.
func (c *ParticipationRateLimit) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	if err := c.base.ValuesInTime(t, ctx); err != nil {
		return err
	}
	v := ctx.CurrentPortfolioValue
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: portfolio value: %w", c.name, estimator.ErrNonFinite)
	}
	if v < 0 {
		return fmt.Errorf("%s: negative portfolio value %g", c.name, v)
	}
	return c.portfolioValue.SetScalar(v)
}

// Parameters implements estimator.ParameterOwner.
func (c *ParticipationRateLimit) Parameters() []*estimator.Parameter {
	params := c.base.Parameters()
	if c.portfolioValue != nil {
		params = append(params, c.portfolioValue)
	}
	return params
}

// Compile returns |z[assets]| * portfolio_value <= volumes * max_fraction.
func (c *ParticipationRateLimit) Compile(vars cvx.Variables) (cvx.Relation, error) {
	z, err := c.tradeAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	traded := cvx.MulNonneg(cvx.Abs(z), c.portfolioValue)
	capacity := cvx.MulNonneg(cvx.ParamExpr(c.volumes.Parameter()), c.maxFraction.Parameter())
	return cvx.NewLessEq(c.name, traded, capacity), nil
}
