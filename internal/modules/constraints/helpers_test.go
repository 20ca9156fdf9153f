package constraints

import (
	"testing"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func day(d int) time.Time {
	return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC)
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

// ready runs PreEvaluation and one ValuesInTime step, then compiles against fresh
// variables.
func ready(t *testing.T, c Constraint, u domain.Universe, tl domain.Timeline, at time.Time, ctx *domain.MarketContext) (cvx.Relation, cvx.Variables) {
	t.Helper()
	require.NoError(t, c.PreEvaluation(u, tl))
	if ctx == nil {
		ctx = &domain.MarketContext{}
	}
	require.NoError(t, c.ValuesInTime(at, ctx))
	vars := cvx.NewVariables(u.Len(), "")
	rel, err := c.Compile(c.Operand().View(vars))
	require.NoError(t, err)
	require.True(t, rel.IsDCP(), rel.String())
	return rel, vars
}

func satisfied(t *testing.T, rel cvx.Relation, vars cvx.Variables, wPlus, z []float64, tol float64) bool {
	t.Helper()
	a, err := cvx.NewAssignment(vars, wPlus, z, nil)
	require.NoError(t, err)
	ok, err := rel.Satisfied(a, tol)
	require.NoError(t, err)
	return ok
}

func matrix(r, c int, data ...float64) *mat.Dense {
	return mat.NewDense(r, c, data)
}
