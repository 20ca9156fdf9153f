package constraints

import (
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinWeightsAtTimes_Lookahead(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	tl := testTimeline(t, 1, 2, 3, 4)

	tests := []struct {
		name string
		at   time.Time
		step int
		want float64
	}{
		{"inactive now", day(2), 0, -inactiveWeightBound},
		{"active one step ahead", day(2), 1, 0.1},
		{"active now", day(3), 0, 0.1},
		{"two steps ahead inactive", day(2), 2, -inactiveWeightBound},
		{"past the end", day(4), 1, -inactiveWeightBound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMinWeightsAtTimes(0.1, FixedTimes(day(3)))
			require.NoError(t, c.PreEvaluation(u, tl))
			ctx := (&domain.MarketContext{}).WithMPOStep(tt.step)
			require.NoError(t, c.ValuesInTime(tt.at, ctx))
			assert.Equal(t, tt.want, c.Bound().Scalar())
		})
	}
}

func TestMaxWeightsAtTimes_Relation(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	tl := testTimeline(t, 1, 2)
	c := NewMaxWeightsAtTimes(0.2, FixedTimes(day(2)))

	rel, vars := ready(t, c, u, tl, day(1), nil)
	w := []float64{0.5, 0.5, 0}
	assert.Equal(t, inactiveWeightBound, c.Bound().Scalar())
	assert.True(t, satisfied(t, rel, vars, w, nil, 0))

	require.NoError(t, c.ValuesInTime(day(2), &domain.MarketContext{}))
	assert.False(t, satisfied(t, rel, vars, w, nil, 0))
	assert.True(t, satisfied(t, rel, vars, []float64{0.2, -3, 3.8}, nil, 0))
}

func TestWeightsAtTimes_MissingTimestamp(t *testing.T) {
	c := NewMaxWeightsAtTimes(0.2, FixedTimes(day(2)))
	require.NoError(t, c.PreEvaluation(testUniverse(t, "AAA"), testTimeline(t, 1, 2)))
	err := c.ValuesInTime(day(1).Add(time.Hour), &domain.MarketContext{})
	assert.ErrorIs(t, err, estimator.ErrMissingTimestamp)
}

func TestWeightsAtTimes_Setup(t *testing.T) {
	u := testUniverse(t, "AAA")
	assert.Error(t, NewWeightsAtTimes(Direction(9), 0.1, FixedTimes()).PreEvaluation(u, testTimeline(t, 1)))
	assert.Error(t, NewWeightsAtTimes(AtMost, 0.1, nil).PreEvaluation(u, testTimeline(t, 1)))
	assert.Nil(t, NewMaxWeightsAtTimes(0.1, FixedTimes()).Parameters())
}

func TestCronCalendar(t *testing.T) {
	// Weekly business-day timeline starting Monday 2024-06-03.
	tl := testTimeline(t, 3, 4, 5, 6, 7, 10, 11)

	cal, err := CronCalendar("0 0 * * 1")
	require.NoError(t, err)
	active, err := cal.Resolve(tl)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Contains(t, active, day(3).UnixNano())
	assert.Contains(t, active, day(10).UnixNano())

	// 00:00 Saturday fires between Friday and Monday, so it lands on Monday.
	cal, err = CronCalendar("0 0 * * 6")
	require.NoError(t, err)
	active, err = cal.Resolve(tl)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Contains(t, active, day(10).UnixNano())

	_, err = CronCalendar("not a cron")
	assert.Error(t, err)
}

func TestFixedTimes_IgnoresUnknown(t *testing.T) {
	active, err := FixedTimes(day(1), day(9)).Resolve(testTimeline(t, 1, 2))
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
