package constraints

import (
	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
)

type factorMode int

const (
	factorMax factorMode = iota
	factorMin
	factorFixed
)

// FactorExposure bounds or fixes the portfolio-wide factor loadings exposure^T w_plus[assets].
// It covers FactorMaxLimit, FactorMinLimit and FixedFactorLoading.
type FactorExposure struct {
	base
	mode     factorMode
	exposure *estimator.ParameterEstimator
	bound    *estimator.ParameterEstimator
}

// NewFactorMaxLimit caps factor exposures. exposure is an asset x factor matrix.
func NewFactorMaxLimit(exposure, limit estimator.Source) *FactorExposure {
	return newFactorExposure("factor_max_limit", factorMax, exposure, limit)
}

// NewFactorMinLimit floors factor exposures.
func NewFactorMinLimit(exposure, limit estimator.Source) *FactorExposure {
	return newFactorExposure("factor_min_limit", factorMin, exposure, limit)
}

// NewFixedFactorLoading pins factor exposures to target, e.g. for market neutrality
// against known betas.
func NewFixedFactorLoading(exposure, target estimator.Source) *FactorExposure {
	return newFactorExposure("fixed_factor_loading", factorFixed, exposure, target)
}

func newFactorExposure(name string, mode factorMode, exposure, bound estimator.Source) *FactorExposure {
	c := &FactorExposure{
		base:     newBase(name, Weights),
		mode:     mode,
		exposure: estimator.NewParameterEstimator(name+".exposure", exposure),
		bound:    estimator.NewParameterEstimator(name+".bound", bound),
	}
	c.Add(c.exposure, c.bound)
	return c
}

// PreEvaluation checks that exposure rows match the assets and the bound matches the
// number of factors.
func (c *FactorExposure) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := c.base.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	exposure := c.exposure.Parameter()
	rows, factors := exposure.Dims()
	if rows != universe.NumAssets() {
		return &estimator.DimensionMismatchError{
			Name:     c.name + ".exposure",
			WantRows: universe.NumAssets(),
			WantCols: factors,
			GotRows:  rows,
			GotCols:  factors,
		}
	}
	bound := c.bound.Parameter()
	if br, bc := bound.Dims(); !bound.IsScalar() && (br != factors || bc != 1) {
		return &estimator.DimensionMismatchError{Name: c.name + ".bound", WantRows: factors, WantCols: 1, GotRows: br, GotCols: bc}
	}
	return nil
}

// Compile returns exposure^T w_plus[assets] (<=, >=, ==) bound.
func (c *FactorExposure) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	loadings := cvx.TransposeMul(c.exposure.Parameter(), w)
	bound := cvx.ParamExpr(c.bound.Parameter())
	switch c.mode {
	case factorMin:
		return cvx.NewGreaterEq(c.name, loadings, bound), nil
	case factorFixed:
		return cvx.NewEqual(c.name, loadings, bound), nil
	default:
		return cvx.NewLessEq(c.name, loadings, bound), nil
	}
}
