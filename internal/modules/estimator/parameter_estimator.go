package estimator

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
)

// ParameterEstimator keeps one live parameter in sync with its source at every step.
type ParameterEstimator struct {
	name      string
	source    Source
	param     *Parameter
	lifecycle Lifecycle
}

// NewParameterEstimator wraps src. The live parameter is allocated in PreEvaluation.
func NewParameterEstimator(name string, src Source) *ParameterEstimator {
	return &ParameterEstimator{
		name:      name,
		source:    src,
		lifecycle: NewLifecycle(name),
	}
}

// Name returns the estimator name.
func (pe *ParameterEstimator) Name() string { return pe.name }

// Parameter returns the live parameter, or nil before PreEvaluation.
func (pe *ParameterEstimator) Parameter() *Parameter { return pe.param }

// Parameters implements ParameterOwner.
func (pe *ParameterEstimator) Parameters() []*Parameter {
	if pe.param == nil {
		return nil
	}
	return []*Parameter{pe.param}
}

// PreEvaluation allocates the live parameter with the source shape. Constant sources
// are written immediately.
func (pe *ParameterEstimator) PreEvaluation(universe domain.Universe, _ domain.Timeline) error {
	shape, err := pe.source.shape(universe)
	if err != nil {
		return fmt.Errorf("%s: %w", pe.name, err)
	}
	param, err := NewParameter(pe.name, shape)
	if err != nil {
		return err
	}
	if !pe.source.timeVarying() {
		values, err := pe.source.valueAt(time.Time{})
		if err != nil {
			return fmt.Errorf("%s: %w", pe.name, err)
		}
		if err := param.SetValues(values); err != nil {
			return err
		}
	}
	pe.param = param
	pe.lifecycle.Start()
	return nil
}

// ValuesInTime writes the source value in effect at t into the live parameter.
func (pe *ParameterEstimator) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	step := 0
	if ctx != nil {
		step = ctx.MPOStep
	}
	if err := pe.lifecycle.Advance(t, step); err != nil {
		return err
	}
	values, err := pe.source.valueAt(t)
	if err != nil {
		return fmt.Errorf("%s: %w", pe.name, err)
	}
	return pe.param.SetValues(values)
}

// Finish ends the lifecycle.
func (pe *ParameterEstimator) Finish() { pe.lifecycle.Finish() }
