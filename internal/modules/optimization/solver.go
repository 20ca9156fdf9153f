package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Solution is the result of a projection.
type Solution struct {
	// WPlus holds post-trade weights, assets then cash. They sum to one.
	WPlus []float64
	// Z holds the trades w_plus - current.
	Z         []float64
	Objective float64
	Converged bool
	// Violated names the relations of any period still violated at WPlus, within
	// CheckTolerance. Later periods carry their _k suffix.
	Violated []string
}

// CheckTolerance is the violation tolerance used to report a solution's violated
// relations.
const CheckTolerance = 1e-3

var convergedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.FunctionConvergence: true,
	optimize.MethodConverge:      true,
}

// Solve finds the post-trade weights closest to target, in squared distance over the
// assets, that satisfy the relations of every period. The portfolio is held through
// the lookahead: later periods see the same post-trade weights and no trades.
// Constraints enter as squared violation penalties. Cash takes the remainder
// 1 - sum(assets), so the budget holds exactly. current holds pre-trade weights,
// assets then cash.
func (p *Policy) Solve(current, target []float64) (*Solution, error) {
	if err := p.lifecycle.Ready(); err != nil {
		return nil, err
	}
	n := p.universe.NumAssets()
	if len(target) != n {
		return nil, &estimator.DimensionMismatchError{Name: "solve.target", WantRows: n, WantCols: 1, GotRows: len(target), GotCols: 1}
	}
	if len(current) != p.universe.Len() {
		return nil, &estimator.DimensionMismatchError{Name: "solve.current", WantRows: p.universe.Len(), WantCols: 1, GotRows: len(current), GotCols: 1}
	}

	var evalErr error
	penalty := func(x []float64) float64 {
		pt, err := p.PointFor(p.withCash(x), current)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		total := 0.0
		for k, held := range p.heldPoints(pt) {
			per := p.periods[k]
			a, err := cvx.NewAssignment(per.vars, held.WPlus, held.Z, held.WPlusMinusWBm)
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			for _, rel := range per.relations {
				v, err := rel.Violations(a)
				if err != nil {
					evalErr = err
					return math.Inf(1)
				}
				total += floats.Dot(v, v)
			}
		}
		return total
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			obj := floats.Distance(x, target, 2)
			obj *= obj
			return obj + p.penaltyWeight*penalty(x)
		},
	}

	start := time.Now()
	result, err := optimize.Minimize(problem, append([]float64(nil), target...), &optimize.Settings{}, &optimize.NelderMead{})
	if evalErr != nil {
		solveDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("solve: %w", evalErr)
	}
	if err != nil && result == nil {
		solveDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("optimization failed: %w", err)
	}

	if !convergedStatuses[result.Status] {
		// Restart the simplex from the best point found so far.
		restarted, rerr := optimize.Minimize(problem, result.X, &optimize.Settings{}, &optimize.NelderMead{})
		if rerr == nil && restarted != nil && restarted.F <= result.F {
			result = restarted
		}
	}
	converged := convergedStatuses[result.Status]
	status := "converged"
	if !converged {
		status = "not_converged"
		p.log.Warn().Str("status", result.Status.String()).Float64("objective", result.F).Msg("Solver did not converge")
	}
	solveDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	pt, err := p.PointFor(p.withCash(result.X), current)
	if err != nil {
		return nil, err
	}
	violated, err := p.Check(p.heldPoints(pt), CheckTolerance)
	if err != nil {
		return nil, err
	}

	return &Solution{
		WPlus:     pt.WPlus,
		Z:         pt.Z,
		Objective: result.F,
		Converged: converged,
		Violated:  violated,
	}, nil
}

// heldPoints expands the first period's point over the horizon. Later periods keep
// the post-trade weights and trade nothing.
func (p *Policy) heldPoints(pt Point) []Point {
	points := make([]Point, len(p.periods))
	points[0] = pt
	for k := 1; k < len(points); k++ {
		points[k] = Point{
			WPlus:         pt.WPlus,
			Z:             make([]float64, len(pt.Z)),
			WPlusMinusWBm: pt.WPlusMinusWBm,
		}
	}
	return points
}

// withCash appends the cash weight that makes x sum to one.
func (p *Policy) withCash(x []float64) []float64 {
	w := make([]float64, len(x)+1)
	copy(w, x)
	w[len(x)] = 1 - floats.Sum(x)
	return w
}

// check returns the names of the period's relations violated at pt.
func (per *period) check(pt Point, tol float64) ([]string, error) {
	a, err := cvx.NewAssignment(per.vars, pt.WPlus, pt.Z, pt.WPlusMinusWBm)
	if err != nil {
		return nil, fmt.Errorf("policy period %d: %w", per.step, err)
	}
	var violated []string
	for _, rel := range per.relations {
		ok, err := rel.Satisfied(a, tol)
		if err != nil {
			return nil, fmt.Errorf("policy period %d: %w", per.step, err)
		}
		if !ok {
			violated = append(violated, rel.Name)
			violationsFound.WithLabelValues(rel.Name).Inc()
		}
	}
	return violated, nil
}
