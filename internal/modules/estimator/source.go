package estimator

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// Source is the data behind a ParameterEstimator: a constant, a time-indexed series
// or a time-and-asset-indexed table. The set of implementations is closed.
type Source interface {
	// shape resolves the parameter shape for the universe and checks alignment.
	shape(u domain.Universe) (Shape, error)
	// valueAt returns the row-major values in effect at t.
	valueAt(t time.Time) ([]float64, error)
	// timeVarying reports whether valueAt depends on t.
	timeVarying() bool
}

// assetRows checks that n per-asset entries fit the universe, with or without cash.
func assetRows(name string, n int, u domain.Universe) error {
	if n == u.NumAssets() || n == u.Len() {
		return nil
	}
	return &DimensionMismatchError{Name: name, WantRows: u.NumAssets(), WantCols: 1, GotRows: n, GotCols: 1}
}

type constantSource struct {
	s      Shape
	values []float64
	free   bool
}

// Constant is a scalar that never changes.
func Constant(v float64) Source {
	return &constantSource{s: ScalarShape(), values: []float64{v}}
}

// ConstantVector is a per-asset vector that never changes.
func ConstantVector(v []float64) Source {
	return &constantSource{s: VectorShape(len(v)), values: append([]float64(nil), v...)}
}

// ConstantFactorVector is a vector that is not indexed by asset, such as one bound
// per factor. Its length is not checked against the universe.
func ConstantFactorVector(v []float64) Source {
	return &constantSource{s: VectorShape(len(v)), values: append([]float64(nil), v...), free: true}
}

// ConstantMatrix is an asset x k matrix (e.g. factor exposures) that never changes.
func ConstantMatrix(m mat.Matrix) Source {
	r, c := m.Dims()
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			values = append(values, m.At(i, j))
		}
	}
	return &constantSource{s: MatrixShape(r, c), values: values}
}

func (c *constantSource) shape(u domain.Universe) (Shape, error) {
	if c.s.Kind != KindScalar && !c.free {
		if err := assetRows("constant", c.s.Rows, u); err != nil {
			return Shape{}, err
		}
	}
	return c.s, nil
}

func (c *constantSource) valueAt(time.Time) ([]float64, error) { return c.values, nil }

func (c *constantSource) timeVarying() bool { return false }

// SeriesSource is a scalar indexed by time.
type SeriesSource struct {
	times  []time.Time
	values []float64
}

// Series builds a time-indexed scalar source. Times must be strictly increasing.
func Series(times []time.Time, values []float64) (*SeriesSource, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("series has %d timestamps but %d values", len(times), len(values))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("%w: series entry %d", domain.ErrTimelineOrder, i)
		}
	}
	return &SeriesSource{
		times:  append([]time.Time(nil), times...),
		values: append([]float64(nil), values...),
	}, nil
}

func (s *SeriesSource) shape(domain.Universe) (Shape, error) { return ScalarShape(), nil }

func (s *SeriesSource) valueAt(t time.Time) ([]float64, error) {
	i, ok := searchTimes(s.times, t)
	if !ok {
		return nil, fmt.Errorf("series at %s: %w", t.Format(time.RFC3339), ErrMissingTimestamp)
	}
	return []float64{s.values[i]}, nil
}

func (s *SeriesSource) timeVarying() bool { return true }

// TableSource is a per-asset vector indexed by time, backed by a frame whose columns
// must follow the universe order.
type TableSource struct {
	frame *domain.Frame
}

// Table wraps a frame as a time-and-asset-indexed source.
func Table(f *domain.Frame) (*TableSource, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table: %w", err)
	}
	return &TableSource{frame: f}, nil
}

func (s *TableSource) shape(u domain.Universe) (Shape, error) {
	cols := s.frame.Assets
	var want []string
	switch len(cols) {
	case u.NumAssets():
		want = u.Assets()
	case u.Len():
		want = u.Names()
	default:
		return Shape{}, &DimensionMismatchError{Name: "table", WantRows: u.NumAssets(), WantCols: 1, GotRows: len(cols), GotCols: 1}
	}
	for i := range want {
		if cols[i] != want[i] {
			return Shape{}, fmt.Errorf("table column %d is %q, universe has %q", i, cols[i], want[i])
		}
	}
	return VectorShape(len(cols)), nil
}

func (s *TableSource) valueAt(t time.Time) ([]float64, error) {
	row, ok := s.frame.Row(t)
	if !ok {
		return nil, fmt.Errorf("table at %s: %w", t.Format(time.RFC3339), ErrMissingTimestamp)
	}
	return row, nil
}

func (s *TableSource) timeVarying() bool { return true }

// MatrixSeriesSource is an asset x k matrix indexed by time.
type MatrixSeriesSource struct {
	times    []time.Time
	matrices []mat.Matrix
}

// MatrixSeries builds a time-indexed matrix source. All matrices must share dimensions.
func MatrixSeries(times []time.Time, matrices []mat.Matrix) (*MatrixSeriesSource, error) {
	if len(times) != len(matrices) || len(times) == 0 {
		return nil, fmt.Errorf("matrix series has %d timestamps and %d matrices", len(times), len(matrices))
	}
	r, c := matrices[0].Dims()
	for i, m := range matrices {
		if i > 0 && !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("%w: matrix series entry %d", domain.ErrTimelineOrder, i)
		}
		if mr, mc := m.Dims(); mr != r || mc != c {
			return nil, &DimensionMismatchError{Name: "matrix series", WantRows: r, WantCols: c, GotRows: mr, GotCols: mc}
		}
	}
	return &MatrixSeriesSource{
		times:    append([]time.Time(nil), times...),
		matrices: append([]mat.Matrix(nil), matrices...),
	}, nil
}

func (s *MatrixSeriesSource) shape(u domain.Universe) (Shape, error) {
	r, c := s.matrices[0].Dims()
	if err := assetRows("matrix series", r, u); err != nil {
		return Shape{}, err
	}
	return MatrixShape(r, c), nil
}

func (s *MatrixSeriesSource) valueAt(t time.Time) ([]float64, error) {
	i, ok := searchTimes(s.times, t)
	if !ok {
		return nil, fmt.Errorf("matrix series at %s: %w", t.Format(time.RFC3339), ErrMissingTimestamp)
	}
	m := s.matrices[i]
	r, c := m.Dims()
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			values = append(values, m.At(i, j))
		}
	}
	return values, nil
}

func (s *MatrixSeriesSource) timeVarying() bool { return true }

func searchTimes(times []time.Time, t time.Time) (int, bool) {
	i := sort.Search(len(times), func(i int) bool { return !times[i].Before(t) })
	if i == len(times) || !times[i].Equal(t) {
		return 0, false
	}
	return i, true
}
