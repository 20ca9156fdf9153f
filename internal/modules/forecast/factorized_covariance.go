package forecast

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// FactorForecaster is a derived forecast estimator exposing a factor matrix F whose
// product F F^T approximates the asset covariance.
type FactorForecaster interface {
	estimator.Estimator
	CurrentValue() (mat.Matrix, error)
}

// Option configures a HistoricalFactorizedCovariance.
type Option func(*HistoricalFactorizedCovariance)

// WithWindow limits the estimate to the last n observations (0 uses all history).
func WithWindow(n int) Option {
	return func(h *HistoricalFactorizedCovariance) { h.window = n }
}

// WithNumFactors keeps only the k leading factors (0 keeps all).
func WithNumFactors(k int) Option {
	return func(h *HistoricalFactorizedCovariance) { h.numFactors = k }
}

// WithShrinkage enables Ledoit-Wolf shrinkage of the sample covariance.
func WithShrinkage() Option {
	return func(h *HistoricalFactorizedCovariance) { h.shrink = true }
}

// WithUncentered uses the second moment E[r r^T] instead of the centered covariance.
func WithUncentered() Option {
	return func(h *HistoricalFactorizedCovariance) { h.centered = false }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(h *HistoricalFactorizedCovariance) {
		h.log = log.With().Str("component", "factorized_covariance").Logger()
	}
}

// HistoricalFactorizedCovariance estimates the covariance of past asset returns at each
// step and factorizes it as F F^T. F is kept in a live n x k parameter.
type HistoricalFactorizedCovariance struct {
	window     int
	numFactors int
	shrink     bool
	centered   bool

	assets    []string
	value     *estimator.Parameter
	lifecycle estimator.Lifecycle
	log       zerolog.Logger
}

// NewHistoricalFactorizedCovariance creates the forecaster.
func NewHistoricalFactorizedCovariance(opts ...Option) *HistoricalFactorizedCovariance {
	h := &HistoricalFactorizedCovariance{
		centered:  true,
		lifecycle: estimator.NewLifecycle("factorized_covariance"),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PreEvaluation allocates the factor matrix for the universe assets.
func (h *HistoricalFactorizedCovariance) PreEvaluation(universe domain.Universe, _ domain.Timeline) error {
	n := universe.NumAssets()
	k := h.numFactors
	if k <= 0 || k > n {
		k = n
	}
	value, err := estimator.NewParameter("factorized_covariance", estimator.MatrixShape(n, k))
	if err != nil {
		return err
	}
	h.assets = universe.Assets()
	h.value = value
	h.lifecycle.Start()
	return nil
}

// ValuesInTime recomputes F from the trailing returns window.
func (h *HistoricalFactorizedCovariance) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	if ctx == nil {
		return fmt.Errorf("factorized covariance: nil market context")
	}
	if err := h.lifecycle.Advance(t, ctx.MPOStep); err != nil {
		return err
	}
	returns, err := h.assetReturns(ctx.PastReturns)
	if err != nil {
		return err
	}

	sigma, err := sampleCovariance(returns, h.centered)
	if err != nil {
		return fmt.Errorf("factorized covariance at %s: %w", t.Format(time.RFC3339), err)
	}
	if h.shrink {
		sigma = ledoitWolfShrink(sigma)
	}
	f, err := factorize(sigma, h.numFactors)
	if err != nil {
		return fmt.Errorf("factorized covariance at %s: %w", t.Format(time.RFC3339), err)
	}

	h.log.Debug().
		Time("t", t).
		Int("observations", returns.RawMatrix().Rows).
		Int("factors", f.RawMatrix().Cols).
		Msg("Updated factorized covariance")

	return h.value.SetMatrix(f)
}

// assetReturns selects the universe asset columns of the trailing window.
func (h *HistoricalFactorizedCovariance) assetReturns(past *domain.Frame) (*mat.Dense, error) {
	if past == nil || past.Rows() == 0 {
		return nil, fmt.Errorf("%w: no past returns", estimator.ErrDegenerateData)
	}
	if h.window > 0 {
		past = past.Tail(h.window)
	}

	out := mat.NewDense(past.Rows(), len(h.assets), nil)
	for j, asset := range h.assets {
		col, ok := past.ColumnIndex(asset)
		if !ok {
			return nil, &estimator.DimensionMismatchError{
				Name:     "past_returns." + asset,
				WantRows: past.Rows(),
				WantCols: len(h.assets),
				GotRows:  past.Rows(),
				GotCols:  past.Cols(),
			}
		}
		out.SetCol(j, past.Column(col))
	}
	return out, nil
}

// MinHistory implements estimator.HistoryRequirer: the covariance needs two past
// return rows.
func (h *HistoricalFactorizedCovariance) MinHistory() int { return minObservations }

// CurrentValue returns the latest factor matrix F.
func (h *HistoricalFactorizedCovariance) CurrentValue() (mat.Matrix, error) {
	if err := h.lifecycle.Ready(); err != nil {
		return nil, err
	}
	if !h.value.Ready() {
		return nil, fmt.Errorf("factorized covariance has not been computed yet: %w", estimator.ErrUninitialized)
	}
	return h.value.Matrix(), nil
}

// Parameters implements estimator.ParameterOwner.
func (h *HistoricalFactorizedCovariance) Parameters() []*estimator.Parameter {
	if h.value == nil {
		return nil
	}
	return []*estimator.Parameter{h.value}
}

// Finish ends the lifecycle.
func (h *HistoricalFactorizedCovariance) Finish() { h.lifecycle.Finish() }
