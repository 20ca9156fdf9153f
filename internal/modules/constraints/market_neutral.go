package constraints

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/aristath/sentinel-cvx/internal/modules/forecast"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/mat"
)

// DefaultVolumeWindow is the number of trailing observations averaged for the
// volume-weighted market proxy.
const DefaultVolumeWindow = 250

// MarketNeutralOption configures a MarketNeutral constraint.
type MarketNeutralOption func(*MarketNeutral)

// WithCovarianceForecaster replaces the default historical factorized covariance.
func WithCovarianceForecaster(f forecast.FactorForecaster) MarketNeutralOption {
	return func(c *MarketNeutral) { c.forecaster = f }
}

// WithVolumeWindow sets the trailing window of the market proxy.
func WithVolumeWindow(n int) MarketNeutralOption {
	return func(c *MarketNeutral) {
		if n > 0 {
			c.window = n
		}
	}
}

// MarketNeutral keeps post-trade asset weights orthogonal to a market vector derived
// from a rolling factor model: m = F (F^T v), where v is the normalized trailing mean
// volume of each asset and F the current factorized covariance.
type MarketNeutral struct {
	base
	forecaster   forecast.FactorForecaster
	window       int
	marketVector *estimator.Parameter
}

// NewMarketNeutral creates the constraint. The covariance forecaster is an owned child
// and is updated before the market vector on every step.
func NewMarketNeutral(opts ...MarketNeutralOption) *MarketNeutral {
	c := &MarketNeutral{
		base:   newBase("market_neutral", Weights),
		window: DefaultVolumeWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.forecaster == nil {
		c.forecaster = forecast.NewHistoricalFactorizedCovariance()
	}
	c.Add(c.forecaster)
	return c
}

// PreEvaluation sets up the forecaster and allocates the market vector.
func (c *MarketNeutral) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := c.base.PreEvaluation(universe, timeline); err != nil {
		return err
	}
	mv, err := estimator.NewParameter("market_neutral.market_vector", estimator.VectorShape(universe.NumAssets()))
	if err != nil {
		return err
	}
	c.marketVector = mv
	return nil
}

// ValuesInTime updates the forecaster, then recomputes the market vector.
func (c *MarketNeutral) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	if err := c.base.ValuesInTime(t, ctx); err != nil {
		return err
	}
	proxy, err := c.volumeProxy(ctx.PastVolumes)
	if err != nil {
		return fmt.Errorf("%s at %s: %w", c.name, t.Format(time.RFC3339), err)
	}
	f, err := c.forecaster.CurrentValue()
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}

	n, _ := f.Dims()
	if n != proxy.Len() {
		return &estimator.DimensionMismatchError{Name: c.name + ".factors", WantRows: proxy.Len(), WantCols: 1, GotRows: n, GotCols: 1}
	}
	var loadings, market mat.VecDense
	loadings.MulVec(f.T(), proxy)
	market.MulVec(f, &loadings)
	return c.marketVector.SetVector(&market)
}

// volumeProxy returns the trailing mean volume per asset, normalized to sum to one.
func (c *MarketNeutral) volumeProxy(volumes *domain.Frame) (*mat.VecDense, error) {
	if volumes.Rows() == 0 {
		return nil, fmt.Errorf("%w: no past volumes", estimator.ErrDegenerateData)
	}
	window := volumes.Tail(c.window)
	period := window.Rows()
	assets := c.universe.Assets()

	proxy := mat.NewVecDense(len(assets), nil)
	total := 0.0
	for i, asset := range assets {
		col, ok := window.ColumnIndex(asset)
		if !ok {
			return nil, &estimator.DimensionMismatchError{
				Name:     "past_volumes." + asset,
				WantRows: period,
				WantCols: len(assets),
				GotRows:  period,
				GotCols:  window.Cols(),
			}
		}
		sma := talib.Sma(window.Column(col), period)
		mean := sma[len(sma)-1]
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			return nil, fmt.Errorf("mean volume of %s: %w", asset, estimator.ErrNonFinite)
		}
		proxy.SetVec(i, mean)
		total += mean
	}
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: trailing volume sum is %g", estimator.ErrDegenerateData, total)
	}
	proxy.ScaleVec(1/total, proxy)
	return proxy, nil
}

// MinHistory implements estimator.HistoryRequirer for the volume proxy. The
// forecaster's own requirement is reported as a child.
func (c *MarketNeutral) MinHistory() int { return 1 }

// MarketVector returns the live market vector, or nil before PreEvaluation.
func (c *MarketNeutral) MarketVector() *estimator.Parameter { return c.marketVector }

// Parameters implements estimator.ParameterOwner.
func (c *MarketNeutral) Parameters() []*estimator.Parameter {
	params := c.base.Parameters()
	if c.marketVector != nil {
		params = append(params, c.marketVector)
	}
	return params
}

// Compile returns w_plus[assets] . market_vector == 0.
func (c *MarketNeutral) Compile(vars cvx.Variables) (cvx.Relation, error) {
	w, err := c.weightAssets(vars)
	if err != nil {
		return cvx.Relation{}, err
	}
	return cvx.NewEqual(c.name, cvx.TransposeMul(c.marketVector, w), cvx.Const(0)), nil
}
