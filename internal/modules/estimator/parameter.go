package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Kind is the shape class of a live parameter.
type Kind int

const (
	KindScalar Kind = iota
	KindVector
	KindMatrix
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindMatrix:
		return "matrix"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Shape describes a parameter. Scalars are 1x1, vectors are Rows x 1.
type Shape struct {
	Kind Kind
	Rows int
	Cols int
}

// ScalarShape is the shape of a scalar parameter.
func ScalarShape() Shape { return Shape{Kind: KindScalar, Rows: 1, Cols: 1} }

// VectorShape is the shape of a length-n vector parameter.
func VectorShape(n int) Shape { return Shape{Kind: KindVector, Rows: n, Cols: 1} }

// MatrixShape is the shape of an r x c matrix parameter.
func MatrixShape(r, c int) Shape { return Shape{Kind: KindMatrix, Rows: r, Cols: c} }

// Size returns the number of stored values.
func (s Shape) Size() int { return s.Rows * s.Cols }

// Parameter is a live numeric slot owned by exactly one estimator. It is allocated
// once during pre-evaluation and overwritten in place on every step; readers hold the
// pointer and always see the latest values.
type Parameter struct {
	name  string
	shape Shape
	value *mat.Dense
	ready bool
}

// NewParameter allocates a zeroed parameter of the given shape.
func NewParameter(name string, shape Shape) (*Parameter, error) {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return nil, fmt.Errorf("parameter %s: invalid shape %dx%d", name, shape.Rows, shape.Cols)
	}
	if shape.Kind != KindMatrix && shape.Cols != 1 {
		return nil, fmt.Errorf("parameter %s: %s must have one column", name, shape.Kind)
	}
	return &Parameter{
		name:  name,
		shape: shape,
		value: mat.NewDense(shape.Rows, shape.Cols, nil),
	}, nil
}

// Name returns the parameter name.
func (p *Parameter) Name() string { return p.name }

// Shape returns the parameter shape.
func (p *Parameter) Shape() Shape { return p.shape }

// Dims returns rows and columns.
func (p *Parameter) Dims() (int, int) { return p.shape.Rows, p.shape.Cols }

// IsScalar reports whether the parameter is a scalar.
func (p *Parameter) IsScalar() bool { return p.shape.Kind == KindScalar }

// Ready reports whether a value has been written at least once.
func (p *Parameter) Ready() bool { return p.ready }

// At returns the element at (i, j).
func (p *Parameter) At(i, j int) float64 { return p.value.At(i, j) }

// Scalar returns the value of a scalar parameter.
func (p *Parameter) Scalar() float64 { return p.value.At(0, 0) }

// Values returns a row-major copy of the current values.
func (p *Parameter) Values() []float64 {
	out := make([]float64, 0, p.shape.Size())
	for i := 0; i < p.shape.Rows; i++ {
		for j := 0; j < p.shape.Cols; j++ {
			out = append(out, p.value.At(i, j))
		}
	}
	return out
}

// Matrix returns a read-only view of the current values.
func (p *Parameter) Matrix() mat.Matrix { return p.value }

// SetScalar writes a scalar value.
func (p *Parameter) SetScalar(v float64) error {
	return p.SetValues([]float64{v})
}

// SetValues overwrites the parameter with row-major values. Nothing is written
// unless the length matches and every value is finite.
func (p *Parameter) SetValues(values []float64) error {
	if len(values) != p.shape.Size() {
		gotRows, gotCols := len(values), 1
		return &DimensionMismatchError{
			Name:     p.name,
			WantRows: p.shape.Rows,
			WantCols: p.shape.Cols,
			GotRows:  gotRows,
			GotCols:  gotCols,
		}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s[%d]: %w", p.name, i, ErrNonFinite)
		}
	}
	for i := 0; i < p.shape.Rows; i++ {
		for j := 0; j < p.shape.Cols; j++ {
			p.value.Set(i, j, values[i*p.shape.Cols+j])
		}
	}
	p.ready = true
	return nil
}

// SetMatrix overwrites the parameter with m, which must match its dimensions exactly.
func (p *Parameter) SetMatrix(m mat.Matrix) error {
	r, c := m.Dims()
	if r != p.shape.Rows || c != p.shape.Cols {
		return &DimensionMismatchError{
			Name:     p.name,
			WantRows: p.shape.Rows,
			WantCols: p.shape.Cols,
			GotRows:  r,
			GotCols:  c,
		}
	}
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			values = append(values, m.At(i, j))
		}
	}
	return p.SetValues(values)
}

// SetVector overwrites a vector parameter from v.
func (p *Parameter) SetVector(v mat.Vector) error {
	values := make([]float64, v.Len())
	for i := range values {
		values[i] = v.AtVec(i)
	}
	return p.SetValues(values)
}
