package forecast

import (
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var returnsRows = [][]float64{
	{0.010, -0.020, 0.005},
	{-0.004, 0.012, 0.001},
	{0.007, 0.003, -0.006},
	{0.002, -0.008, 0.004},
	{-0.011, 0.006, 0.009},
	{0.004, 0.001, -0.002},
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, opts ...Option) (*HistoricalFactorizedCovariance, *domain.MarketContext) {
	t.Helper()
	u, err := domain.NewUniverse([]string{"AAA", "BBB", "CCC"}, "")
	require.NoError(t, err)
	tl, err := domain.NewTimeline([]time.Time{day(10), day(11)})
	require.NoError(t, err)

	times := make([]time.Time, len(returnsRows))
	for i := range times {
		times[i] = day(i + 1)
	}
	past, err := domain.NewFrame(times, []string{"AAA", "BBB", "CCC"}, returnsRows)
	require.NoError(t, err)

	h := NewHistoricalFactorizedCovariance(opts...)
	require.NoError(t, h.PreEvaluation(u, tl))
	return h, &domain.MarketContext{PastReturns: past}
}

func TestFactorizedCovariance_ReconstructsSampleCovariance(t *testing.T) {
	h, ctx := setup(t)
	require.NoError(t, h.ValuesInTime(day(10), ctx))

	f, err := h.CurrentValue()
	require.NoError(t, err)
	r, c := f.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)

	var got mat.Dense
	got.Mul(f, f.T())

	var want mat.SymDense
	stat.CovarianceMatrix(&want, mat.NewDense(6, 3, flatten(returnsRows)), nil)
	assert.True(t, mat.EqualApprox(&got, &want, 1e-12))
}

func TestFactorizedCovariance_LeadingFactors(t *testing.T) {
	h, ctx := setup(t, WithNumFactors(1))
	require.NoError(t, h.ValuesInTime(day(10), ctx))

	f, err := h.CurrentValue()
	require.NoError(t, err)
	r, c := f.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
}

func TestFactorizedCovariance_Window(t *testing.T) {
	h, ctx := setup(t, WithWindow(2))
	require.NoError(t, h.ValuesInTime(day(10), ctx))

	f, err := h.CurrentValue()
	require.NoError(t, err)
	var got mat.Dense
	got.Mul(f, f.T())

	var want mat.SymDense
	stat.CovarianceMatrix(&want, mat.NewDense(2, 3, flatten(returnsRows[4:])), nil)
	assert.True(t, mat.EqualApprox(&got, &want, 1e-12))
}

func TestFactorizedCovariance_Uncentered(t *testing.T) {
	h, ctx := setup(t, WithUncentered())
	require.NoError(t, h.ValuesInTime(day(10), ctx))

	f, err := h.CurrentValue()
	require.NoError(t, err)
	var got mat.Dense
	got.Mul(f, f.T())

	want := 0.0
	for _, row := range returnsRows {
		want += row[0] * row[0]
	}
	want /= float64(len(returnsRows))
	assert.InDelta(t, want, got.At(0, 0), 1e-12)
}

func TestFactorizedCovariance_ShrinkageKeepsPSD(t *testing.T) {
	h, ctx := setup(t, WithShrinkage())
	require.NoError(t, h.ValuesInTime(day(10), ctx))

	f, err := h.CurrentValue()
	require.NoError(t, err)
	var got mat.Dense
	got.Mul(f, f.T())
	for i := 0; i < 3; i++ {
		assert.Greater(t, got.At(i, i), 0.0)
		for j := 0; j < 3; j++ {
			assert.InDelta(t, got.At(i, j), got.At(j, i), 1e-15)
		}
	}
}

func TestFactorizedCovariance_Errors(t *testing.T) {
	h, ctx := setup(t)

	_, err := h.CurrentValue()
	assert.ErrorIs(t, err, estimator.ErrUninitialized)

	short := &domain.MarketContext{PastReturns: ctx.PastReturns.Tail(1)}
	assert.ErrorIs(t, h.ValuesInTime(day(10), short), estimator.ErrDegenerateData)

	missing, err := domain.NewFrame(ctx.PastReturns.Times, []string{"AAA", "BBB", "ZZZ"}, returnsRows)
	require.NoError(t, err)
	var dim *estimator.DimensionMismatchError
	assert.ErrorAs(t, h.ValuesInTime(day(11), &domain.MarketContext{PastReturns: missing}), &dim)

	fresh := NewHistoricalFactorizedCovariance()
	assert.ErrorIs(t, fresh.ValuesInTime(day(10), ctx), estimator.ErrUninitialized)
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
