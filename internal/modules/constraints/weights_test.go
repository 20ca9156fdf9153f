package constraints

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongOnly_SignProperty(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	rel, vars := ready(t, NewLongOnly(), u, testTimeline(t, 1), day(1), nil)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		w := make([]float64, u.Len())
		anyNegative := false
		for j := 0; j < u.NumAssets(); j++ {
			w[j] = rng.Float64()*2 - 1
			if w[j] < 0 {
				anyNegative = true
			}
		}
		// cash is not constrained
		w[u.CashIndex()] = -5
		assert.Equal(t, !anyNegative, satisfied(t, rel, vars, w, nil, 0), "w=%v", w)
	}
}

func TestLeverageLimit_TimeVarying(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	tl := testTimeline(t, 1, 2)
	series, err := estimator.Series(tl.Times(), []float64{2, 1})
	require.NoError(t, err)

	c := NewLeverageLimit(series)
	require.NoError(t, c.PreEvaluation(u, tl))
	vars := cvx.NewVariables(u.Len(), "")
	rel, err := c.Compile(vars.WeightsOnly())
	require.NoError(t, err)

	w := []float64{0.9, -0.6, 0.7}

	require.NoError(t, c.ValuesInTime(day(1), &domain.MarketContext{}))
	assert.True(t, satisfied(t, rel, vars, w, nil, 0))

	// same relation, new limit
	require.NoError(t, c.ValuesInTime(day(2), &domain.MarketContext{}))
	assert.False(t, satisfied(t, rel, vars, w, nil, 0))
	assert.True(t, satisfied(t, rel, vars, []float64{0.5, -0.5, 1}, nil, 0))
}

func TestLeverageLimit_RejectsVectorLimit(t *testing.T) {
	c := NewLeverageLimit(estimator.ConstantVector([]float64{1, 2}))
	err := c.PreEvaluation(testUniverse(t, "AAA", "BBB"), testTimeline(t, 1))
	var dim *estimator.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
}

func TestDollarNeutral_ExactEquality(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	rel, vars := ready(t, NewDollarNeutral(), u, testTimeline(t, 1), day(1), nil)

	assert.True(t, satisfied(t, rel, vars, []float64{0.5, -0.5, 1}, nil, 0))
	assert.False(t, satisfied(t, rel, vars, []float64{0.5, -0.5, 1 + 1e-12}, nil, 0))
}

func TestLongCash(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")

	tests := []struct {
		name   string
		factor float64
		w      []float64
		want   bool
	}{
		{"no shorts", 0, []float64{0.5, 0.5, 0}, true},
		{"covered short", 0, []float64{1.1, -0.3, 0.6}, true},
		{"uncovered short", 0, []float64{1.3, -0.4, 0.1}, false},
		{"custom factor", 1, []float64{1.3, -0.4, 0.4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLongCash(tt.factor)
			rel, vars := ready(t, c, u, testTimeline(t, 1), day(1), nil)
			assert.Equal(t, tt.want, satisfied(t, rel, vars, tt.w, nil, 1e-12))
		})
	}
	assert.Equal(t, DefaultCollateralFactor, NewLongCash(-1).CollateralFactor())
}

func TestWeightBounds(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")

	rel, vars := ready(t, NewMaxWeights(estimator.Constant(0.3)), u, testTimeline(t, 1), day(1), nil)
	assert.True(t, satisfied(t, rel, vars, []float64{0.3, -2, 5}, nil, 0))
	assert.False(t, satisfied(t, rel, vars, []float64{0.31, 0, 0}, nil, 0))

	rel, vars = ready(t, NewMinWeights(estimator.ConstantVector([]float64{-0.1, 0.2})), u, testTimeline(t, 1), day(1), nil)
	assert.True(t, satisfied(t, rel, vars, []float64{-0.1, 0.2, 0}, nil, 0))
	assert.False(t, satisfied(t, rel, vars, []float64{0, 0.1, 0}, nil, 0))
}

func TestWeightBounds_PerAssetLengthMismatch(t *testing.T) {
	c := NewMaxWeights(estimator.ConstantVector([]float64{0.1, 0.2, 0.3}))
	err := c.PreEvaluation(testUniverse(t, "AAA", "BBB"), testTimeline(t, 1))
	var dim *estimator.DimensionMismatchError
	assert.ErrorAs(t, err, &dim)
}

func TestCompile_BeforePreEvaluation(t *testing.T) {
	vars := cvx.NewVariables(3, "")
	for _, c := range []Constraint{NewLongOnly(), NewDollarNeutral(), NewLongCash(0), NewMarketNeutral()} {
		_, err := c.Compile(vars)
		assert.ErrorIs(t, err, estimator.ErrUninitialized, c.Name())
	}
}

func TestOperandView_Enforced(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	vars := cvx.NewVariables(u.Len(), "")

	long := NewLongOnly()
	require.NoError(t, long.PreEvaluation(u, testTimeline(t, 1)))
	_, err := long.Compile(Trades.View(vars))
	assert.ErrorIs(t, err, cvx.ErrUnboundVariable)

	volumes := estimator.ConstantVector([]float64{1000, 2000})
	part := NewParticipationRateLimit(volumes, nil)
	require.NoError(t, part.PreEvaluation(u, testTimeline(t, 1)))
	_, err = part.Compile(Weights.View(vars))
	assert.ErrorIs(t, err, cvx.ErrUnboundVariable)
}

func TestCompile_WrongVariableSize(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	c := NewLongOnly()
	require.NoError(t, c.PreEvaluation(u, testTimeline(t, 1)))
	_, err := c.Compile(cvx.NewVariables(5, ""))
	var dim *estimator.DimensionMismatchError
	assert.True(t, errors.As(err, &dim))
}

func TestValuesInTime_OutOfOrder(t *testing.T) {
	u := testUniverse(t, "AAA")
	c := NewLongOnly()
	require.NoError(t, c.PreEvaluation(u, testTimeline(t, 1, 2)))
	require.NoError(t, c.ValuesInTime(day(2), &domain.MarketContext{}))
	assert.ErrorIs(t, c.ValuesInTime(day(1), &domain.MarketContext{}), estimator.ErrOutOfOrder)
	assert.Error(t, c.ValuesInTime(day(3).Add(time.Hour), nil))
}

func TestFactorExposure(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	exposure := estimator.ConstantMatrix(matrix(3, 2,
		1.0, 0.5,
		1.2, -0.3,
		0.8, 0.0,
	))

	rel, vars := ready(t, NewFactorMaxLimit(exposure, estimator.Constant(0.5)), u, testTimeline(t, 1), day(1), nil)
	// loadings = [0.4+0.36+0.16, 0.2-0.09] = [0.92, 0.11]
	assert.False(t, satisfied(t, rel, vars, []float64{0.4, 0.3, 0.2, 0.1}, nil, 0))
	assert.True(t, satisfied(t, rel, vars, []float64{0.1, 0.1, 0.1, 0.7}, nil, 0))

	rel, vars = ready(t, NewFixedFactorLoading(exposure, estimator.ConstantFactorVector([]float64{0, 0})), u, testTimeline(t, 1), day(1), nil)
	assert.True(t, satisfied(t, rel, vars, []float64{0, 0, 0, 1}, nil, 0))
	assert.False(t, satisfied(t, rel, vars, []float64{0.1, 0, 0, 0.9}, nil, 1e-12))

	c := NewFactorMinLimit(exposure, estimator.ConstantFactorVector([]float64{0, 0, 0, 0}))
	var dim *estimator.DimensionMismatchError
	assert.ErrorAs(t, c.PreEvaluation(u, testTimeline(t, 1)), &dim)
}
