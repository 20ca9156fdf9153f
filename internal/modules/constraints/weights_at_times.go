package constraints

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
)

// inactiveWeightBound is the magnitude of the bound written at timestamps where a
// time-scheduled weight bound does not apply. No feasible weight reaches it.
const inactiveWeightBound = 100.0

// WeightsAtTimes bounds every post-trade asset weight, but only at the timestamps its
// calendar marks active. In multi-period mode the bound that applies is the one at
// the timestamp the lookahead step lands on.
type WeightsAtTimes struct {
	base
	direction Direction
	limit     float64
	calendar  Calendar
	timeline  domain.Timeline
	active    map[int64]struct{}
	bound     *estimator.Parameter
}

// NewWeightsAtTimes creates a time-scheduled bound.
func NewWeightsAtTimes(direction Direction, limit float64, calendar Calendar) *WeightsAtTimes {
	name := "max_weights_at_times"
	if direction == AtLeast {
		name = "min_weights_at_times"
	}
	return &WeightsAtTimes{
		base:      newBase(name, Weights),
		direction: direction,
		limit:     limit,
		calendar:  calendar,
	}
}

// NewMinWeightsAtTimes is a lower bound active at the calendar's timestamps.
func NewMinWeightsAtTimes(limit float64, calendar Calendar) *WeightsAtTimes {
	return NewWeightsAtTimes(AtLeast, limit, calendar)
}

// NewMaxWeightsAtTimes is an upper bound active at the calendar's timestamps.
func NewMaxWeightsAtTimes(limit float64, calendar Calendar) *WeightsAtTimes {
	return NewWeightsAtTimes(AtMost, limit, calendar)
}

// PreEvaluation resolves the calendar against the timeline and allocates the bound.
func (c *WeightsAtTimes) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := c.direction.validate(); err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	if c.calendar == nil {
		return fmt.Errorf("%s: no calendar", c.name)
	}
	if err := c.base.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	active, err := c.calendar.Resolve(timeline)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	bound, err := estimator.NewParameter(c.name+".bound", estimator.ScalarShape())
	if err != nil {
		return err
	}
	c.timeline = timeline
	c.active = active
	c.bound = bound
	return nil
}

// ValuesInTime writes the limit if the target timestamp is active, else the sentinel.
func (c *WeightsAtTimes) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	if err := c.base.ValuesInTime(t, ctx); err != nil {
		return err
	}
	idx, ok := c.timeline.IndexOf(t)
	if !ok {
		return fmt.Errorf("%s: %w: %s", c.name, estimator.ErrMissingTimestamp, t.Format(time.RFC3339))
	}
	value := c.direction.inactiveBound()
	if target := idx + ctx.MPOStep; target < c.timeline.Len() {
		if _, on := c.active[c.timeline.At(target).UnixNano()]; on {
			value = c.limit
		}
	}
	return c.bound.SetScalar(value)
}

// Bound returns the live bound, or nil before PreEvaluation.
func (c *WeightsAtTimes) Bound() *estimator.Parameter { return c.bound }

// Parameters implements estimator.ParameterOwner.
func (c *WeightsAtTimes) Parameters() []*estimator.Parameter {
	if c.bound == nil {
		return nil
	}
	return []*estimator.Parameter{c.bound}
}

// Compile returns w_plus[assets] <= bound or >= bound.
func (c *WeightsAtTimes) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	return c.direction.relation(c.name, w, cvx.ParamExpr(c.bound)), nil
}
