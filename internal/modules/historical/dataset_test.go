package historical

import (
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	u, err := domain.NewUniverse([]string{"AAA", "BBB"}, "")
	require.NoError(t, err)
	times := []time.Time{day(1), day(2), day(3), day(4)}
	returns, err := domain.NewFrame(times, []string{"AAA", "BBB"}, [][]float64{{0.1, 0}, {0.2, 0}, {0.3, 0}, {0.4, 0}})
	require.NoError(t, err)
	volumes, err := domain.NewFrame(times, []string{"AAA", "BBB"}, [][]float64{{1, 2}, {1, 2}, {1, 2}, {1, 2}})
	require.NoError(t, err)
	ds, err := NewDataset(u, returns, volumes)
	require.NoError(t, err)
	return ds
}

func TestDataset_ContextAtUsesStrictlyPastRows(t *testing.T) {
	ds := testDataset(t)

	ctx := ds.ContextAt(day(3), 1000, 2)
	assert.Equal(t, 2, ctx.PastReturns.Rows())
	assert.Equal(t, 2, ctx.PastVolumes.Rows())
	assert.Equal(t, day(2), ctx.PastReturns.Times[1])
	assert.Equal(t, 1000.0, ctx.CurrentPortfolioValue)
	assert.Equal(t, 2, ctx.MPOStep)

	assert.Equal(t, 0, ds.ContextAt(day(1), 1, 0).PastReturns.Rows())
}

func TestDataset_Timeline(t *testing.T) {
	ds := testDataset(t)

	tl, err := ds.Timeline(day(2), day(3))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2), day(3)}, tl.Times())

	tl, err = ds.Timeline(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, tl.Len())

	_, err = ds.Timeline(day(10), day(12))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestNewDataset_Mismatch(t *testing.T) {
	u, err := domain.NewUniverse([]string{"AAA", "BBB"}, "")
	require.NoError(t, err)
	returns, err := domain.NewFrame([]time.Time{day(1)}, []string{"AAA", "BBB"}, [][]float64{{0, 0}})
	require.NoError(t, err)
	swapped, err := domain.NewFrame([]time.Time{day(1)}, []string{"BBB", "AAA"}, [][]float64{{0, 0}})
	require.NoError(t, err)
	later, err := domain.NewFrame([]time.Time{day(2)}, []string{"AAA", "BBB"}, [][]float64{{0, 0}})
	require.NoError(t, err)

	_, err = NewDataset(u, returns, swapped)
	assert.Error(t, err)
	_, err = NewDataset(u, returns, later)
	assert.Error(t, err)
}

func TestDataset_VolumeSource(t *testing.T) {
	ds := testDataset(t)
	src, err := ds.VolumeSource()
	require.NoError(t, err)
	assert.NotNil(t, src)
}
