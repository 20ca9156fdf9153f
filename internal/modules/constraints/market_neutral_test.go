package constraints

import (
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/aristath/sentinel-cvx/internal/modules/forecast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var neutralAssets = []string{"AAA", "BBB", "CCC"}

var neutralReturns = [][]float64{
	{0.012, -0.018, 0.004},
	{-0.006, 0.010, 0.002},
	{0.009, 0.004, -0.007},
	{0.001, -0.009, 0.005},
	{-0.013, 0.007, 0.010},
	{0.005, 0.002, -0.003},
	{0.008, -0.004, 0.001},
}

func neutralContext(t *testing.T, volumes [][]float64) *domain.MarketContext {
	t.Helper()
	times := make([]time.Time, len(neutralReturns))
	for i := range times {
		times[i] = day(i + 1)
	}
	returns, err := domain.NewFrame(times, neutralAssets, neutralReturns)
	require.NoError(t, err)
	vol, err := domain.NewFrame(times[len(times)-len(volumes):], neutralAssets, volumes)
	require.NoError(t, err)
	return &domain.MarketContext{PastReturns: returns, PastVolumes: vol, CurrentPortfolioValue: 1e6}
}

func uniformVolumes(n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{500, 500, 500}
	}
	return rows
}

func TestMarketNeutral_MatchesSigmaTimesUniform(t *testing.T) {
	u := testUniverse(t, neutralAssets...)
	c := NewMarketNeutral()
	ctx := neutralContext(t, uniformVolumes(len(neutralReturns)))
	rel, vars := ready(t, c, u, testTimeline(t, 20), day(20), ctx)

	var sigma mat.SymDense
	stat.CovarianceMatrix(&sigma, mat.NewDense(len(neutralReturns), 3, flatten(neutralReturns)), nil)
	uniform := mat.NewVecDense(3, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3})
	var want mat.VecDense
	want.MulVec(&sigma, uniform)

	got := c.MarketVector().Values()
	require.Len(t, got, 3)
	for i := range got {
		assert.InDelta(t, want.AtVec(i), got[i], 1e-12)
	}
	require.NotZero(t, got[0])

	// orthogonal to m
	w := []float64{got[1], -got[0], 0, 1}
	assert.True(t, satisfied(t, rel, vars, w, nil, 1e-12))

	perturbed := append([]float64(nil), w...)
	perturbed[0] += 1
	assert.False(t, satisfied(t, rel, vars, perturbed, nil, 1e-12))
}

func TestMarketNeutral_VolumeWindow(t *testing.T) {
	u := testUniverse(t, neutralAssets...)
	volumes := [][]float64{
		{1e9, 1, 1},
		{100, 300, 600},
		{300, 100, 600},
	}
	c := NewMarketNeutral(WithVolumeWindow(2))
	ready(t, c, u, testTimeline(t, 20), day(20), neutralContext(t, volumes))

	// mean of last two rows is [200, 200, 600] -> [0.2, 0.2, 0.6]
	var sigma mat.SymDense
	stat.CovarianceMatrix(&sigma, mat.NewDense(len(neutralReturns), 3, flatten(neutralReturns)), nil)
	var want mat.VecDense
	want.MulVec(&sigma, mat.NewVecDense(3, []float64{0.2, 0.2, 0.6}))

	got := c.MarketVector().Values()
	for i := range got {
		assert.InDelta(t, want.AtVec(i), got[i], 1e-12)
	}
}

func TestMarketNeutral_DegenerateVolumes(t *testing.T) {
	u := testUniverse(t, neutralAssets...)

	c := NewMarketNeutral()
	require.NoError(t, c.PreEvaluation(u, testTimeline(t, 20)))
	err := c.ValuesInTime(day(20), neutralContext(t, [][]float64{{0, 0, 0}}))
	assert.ErrorIs(t, err, estimator.ErrDegenerateData)

	c = NewMarketNeutral()
	require.NoError(t, c.PreEvaluation(u, testTimeline(t, 20)))
	ctx := neutralContext(t, uniformVolumes(1))
	ctx.PastVolumes = nil
	assert.ErrorIs(t, c.ValuesInTime(day(20), ctx), estimator.ErrDegenerateData)
}

func TestMarketNeutral_MissingVolumeColumn(t *testing.T) {
	u := testUniverse(t, neutralAssets...)
	c := NewMarketNeutral()
	require.NoError(t, c.PreEvaluation(u, testTimeline(t, 20)))

	ctx := neutralContext(t, uniformVolumes(1))
	vol, err := domain.NewFrame([]time.Time{day(1)}, []string{"AAA", "BBB"}, [][]float64{{1, 1}})
	require.NoError(t, err)
	ctx.PastVolumes = vol

	var dim *estimator.DimensionMismatchError
	assert.ErrorAs(t, c.ValuesInTime(day(20), ctx), &dim)
}

func TestMarketNeutral_SnapshotsAreReproducible(t *testing.T) {
	run := func() []byte {
		u := testUniverse(t, neutralAssets...)
		c := NewMarketNeutral()
		ready(t, c, u, testTimeline(t, 20), day(20), neutralContext(t, uniformVolumes(4)))
		params := c.Parameters()
		require.Len(t, params, 2)
		b, err := estimator.TakeSnapshot(params...).Marshal()
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, run(), run())
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func TestMarketNeutral_FinishEndsForecaster(t *testing.T) {
	f := forecast.NewHistoricalFactorizedCovariance()
	c := NewMarketNeutral(WithCovarianceForecaster(f))
	assert.Equal(t, 2, estimator.RequiredHistory(c))

	ctx := neutralContext(t, uniformVolumes(len(neutralReturns)))
	ready(t, c, testUniverse(t, neutralAssets...), testTimeline(t, 20, 21), day(20), ctx)

	c.Finish()
	assert.ErrorIs(t, f.ValuesInTime(day(21), ctx), estimator.ErrFinished)
	assert.ErrorIs(t, c.ValuesInTime(day(21), ctx), estimator.ErrFinished)
}
