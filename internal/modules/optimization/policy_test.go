package optimization

import (
	"fmt"
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/constraints"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 7, d, 0, 0, 0, 0, time.UTC)
}

func testUniverse(t *testing.T, assets ...string) domain.Universe {
	t.Helper()
	u, err := domain.NewUniverse(assets, "")
	require.NoError(t, err)
	return u
}

func testTimeline(t *testing.T, days ...int) domain.Timeline {
	t.Helper()
	times := make([]time.Time, len(days))
	for i, d := range days {
		times[i] = day(d)
	}
	tl, err := domain.NewTimeline(times)
	require.NoError(t, err)
	return tl
}

func factoryOf(build func() []constraints.Constraint) ConstraintFactory {
	return func() ([]constraints.Constraint, error) { return build(), nil }
}

func TestPolicy_SinglePeriodRelations(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	p, err := NewPolicy(factoryOf(func() []constraints.Constraint {
		return []constraints.Constraint{
			constraints.NewLongOnly(),
			constraints.NewLeverageLimit(estimator.Constant(1)),
			constraints.NewParticipationRateLimit(estimator.ConstantVector([]float64{1000, 1000}), nil),
		}
	}))
	require.NoError(t, err)
	require.NoError(t, p.PreEvaluation(u, testTimeline(t, 1)))

	require.NoError(t, p.ValuesInTime(day(1), &domain.MarketContext{CurrentPortfolioValue: 1000}))

	rels := p.Relations()
	require.Len(t, rels, 3)
	assert.Equal(t, "long_only", rels[0].Name)
	assert.Equal(t, "participation_rate_limit", rels[2].Name)

	pt, err := p.PointFor([]float64{0.6, 0.4, 0}, []float64{0.58, 0.42, 0})
	require.NoError(t, err)
	violated, err := p.Check([]Point{pt}, 1e-12)
	require.NoError(t, err)
	assert.Empty(t, violated)

	// |z| * 1000 = 100 > 50
	pt, err = p.PointFor([]float64{0.6, 0.4, 0}, []float64{0.5, 0.5, 0})
	require.NoError(t, err)
	violated, err = p.Check([]Point{pt}, 1e-12)
	require.NoError(t, err)
	assert.Equal(t, []string{"participation_rate_limit"}, violated)
}

func TestPolicy_MultiPeriodLookahead(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	tl := testTimeline(t, 1, 2, 3)
	p, err := NewPolicy(factoryOf(func() []constraints.Constraint {
		return []constraints.Constraint{
			constraints.NewMaxWeightsAtTimes(0.25, constraints.FixedTimes(day(2))),
		}
	}), WithHorizon(3))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Horizon())
	require.NoError(t, p.PreEvaluation(u, tl))

	rels := p.Relations()
	require.Len(t, rels, 3)
	assert.Equal(t, "max_weights_at_times_0", rels[0].Name)
	assert.Equal(t, "max_weights_at_times_2", rels[2].Name)

	for k := 0; k < 3; k++ {
		vars, err := p.Variables(k)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("w_plus_%d", k), vars.WPlus.Name())
	}
	_, err = p.Variables(3)
	assert.Error(t, err)

	require.NoError(t, p.ValuesInTime(day(1), &domain.MarketContext{}))

	// Only period 1 lands on the active timestamp.
	heavy := Point{WPlus: []float64{0.5, 0.5, 0}}
	violated, err := p.Check([]Point{heavy, heavy, heavy}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"max_weights_at_times_1"}, violated)

	snap := p.Snapshot()
	require.Len(t, snap.Parameters, 3)
	assert.Equal(t, []float64{100}, snap.Parameters[0].Values)
	assert.Equal(t, []float64{0.25}, snap.Parameters[1].Values)
	assert.Equal(t, []float64{100}, snap.Parameters[2].Values)
}

func TestPolicy_FactoryMustReturnFreshInstances(t *testing.T) {
	shared := constraints.NewLongOnly()
	_, err := NewPolicy(func() ([]constraints.Constraint, error) {
		return []constraints.Constraint{shared}, nil
	}, WithHorizon(2))
	assert.Error(t, err)

	_, err = NewPolicy(nil)
	assert.Error(t, err)
}

func TestPolicy_SnapshotsAreReproducible(t *testing.T) {
	run := func() []byte {
		u := testUniverse(t, "AAA", "BBB")
		tl := testTimeline(t, 1, 2)
		series, err := estimator.Series(tl.Times(), []float64{1.5, 0.1 + 0.2})
		require.NoError(t, err)
		p, err := NewPolicy(factoryOf(func() []constraints.Constraint {
			return []constraints.Constraint{
				constraints.NewLeverageLimit(series),
				constraints.NewParticipationRateLimit(estimator.Constant(1e6), estimator.Constant(0.01)),
			}
		}))
		require.NoError(t, err)
		require.NoError(t, p.PreEvaluation(u, tl))
		ctx := &domain.MarketContext{CurrentPortfolioValue: 12345.678}
		require.NoError(t, p.ValuesInTime(day(1), ctx))
		require.NoError(t, p.ValuesInTime(day(2), ctx))
		b, err := p.Snapshot().Marshal()
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, run(), run())
}

func TestPolicy_Lifecycle(t *testing.T) {
	u := testUniverse(t, "AAA")
	p, err := NewPolicy(factoryOf(func() []constraints.Constraint {
		return []constraints.Constraint{constraints.NewLongOnly()}
	}))
	require.NoError(t, err)

	_, err = p.Check([]Point{{}}, 0)
	assert.ErrorIs(t, err, estimator.ErrUninitialized)

	require.NoError(t, p.PreEvaluation(u, testTimeline(t, 1, 2)))
	require.NoError(t, p.ValuesInTime(day(2), &domain.MarketContext{}))
	assert.ErrorIs(t, p.ValuesInTime(day(1), &domain.MarketContext{}), estimator.ErrOutOfOrder)
	assert.Error(t, p.ValuesInTime(day(2), nil))

	_, err = p.Check(nil, 0)
	assert.Error(t, err)

	p.Finish()
	_, err = p.Solve([]float64{0, 1}, []float64{0})
	assert.ErrorIs(t, err, estimator.ErrFinished)
}

func TestPolicy_BenchmarkLength(t *testing.T) {
	p, err := NewPolicy(factoryOf(func() []constraints.Constraint { return nil }), WithBenchmark([]float64{1}))
	require.NoError(t, err)
	var dim *estimator.DimensionMismatchError
	assert.ErrorAs(t, p.PreEvaluation(testUniverse(t, "AAA"), testTimeline(t, 1)), &dim)
}
