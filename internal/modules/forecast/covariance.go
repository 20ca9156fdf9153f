// Package forecast provides derived forecast estimators: quantities recomputed from a
// trailing window of historical data at every backtest step.
package forecast

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minObservations is the smallest window a sample covariance is defined on.
const minObservations = 2

// sampleCovariance computes the sample covariance (N-1 denominator) of the columns of
// returns. With centered=false it returns the uncentered second moment instead.
func sampleCovariance(returns mat.Matrix, centered bool) (*mat.SymDense, error) {
	rows, n := returns.Dims()
	if rows < minObservations {
		return nil, fmt.Errorf("%w: need at least %d observations, got %d", estimator.ErrDegenerateData, minObservations, rows)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < n; j++ {
			if v := returns.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("returns row %d column %d: %w", i, j, estimator.ErrNonFinite)
			}
		}
	}

	cov := mat.NewSymDense(n, nil)
	if centered {
		stat.CovarianceMatrix(cov, returns, nil)
		return cov, nil
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < rows; k++ {
				s += returns.At(k, i) * returns.At(k, j)
			}
			cov.SetSym(i, j, s/float64(rows))
		}
	}
	return cov, nil
}

// ledoitWolfShrink shrinks a covariance matrix towards a constant-correlation target.
// The intensity is estimated from the dispersion of the sample entries and capped at 0.5.
func ledoitWolfShrink(sample *mat.SymDense) *mat.SymDense {
	n := sample.SymmetricDim()
	if n < 2 {
		return sample
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sample.At(i, i)
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample.At(i, j)
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))

	target := func(i, j int) float64 {
		if i == j {
			return avgVar
		}
		if avgVar > 0 {
			return avgCov
		}
		return 0
	}

	shrinkage := 0.2
	if n > 2 && avgVar > 0 {
		var sumSqDiff, sum, sumSq float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := sample.At(i, j)
				d := v - target(i, j)
				sumSqDiff += d * d
				sum += v
				sumSq += v * v
			}
		}
		count := float64(n * n)
		meanSqDiff := sumSqDiff / count
		mean := sum / count
		variance := sumSq/count - mean*mean
		if variance > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0, variance/(variance+meanSqDiff)))
		}
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (1-shrinkage)*sample.At(i, j)+shrinkage*target(i, j))
		}
	}
	return out
}

// factorize projects sigma on the PSD cone and returns F (n x k) with F F^T equal to the
// projection when k = n. Columns follow eigenvalues in descending order.
func factorize(sigma *mat.SymDense, k int) (*mat.Dense, error) {
	n := sigma.SymmetricDim()
	if k <= 0 || k > n {
		k = n
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition did not converge", estimator.ErrDegenerateData)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	f := mat.NewDense(n, k, nil)
	for col := 0; col < k; col++ {
		idx := order[col]
		scale := math.Sqrt(math.Max(values[idx], 0))
		for row := 0; row < n; row++ {
			f.Set(row, col, vectors.At(row, idx)*scale)
		}
	}
	return f, nil
}
