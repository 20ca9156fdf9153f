package cvx

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Curvature is the DCP curvature of an expression.
type Curvature int

const (
	Constant Curvature = iota
	Affine
	Convex
	Concave
	Unknown
)

func (c Curvature) String() string {
	switch c {
	case Constant:
		return "constant"
	case Affine:
		return "affine"
	case Convex:
		return "convex"
	case Concave:
		return "concave"
	default:
		return "unknown"
	}
}

func (c Curvature) isAffine() bool  { return c == Constant || c == Affine }
func (c Curvature) isConvex() bool  { return c.isAffine() || c == Convex }
func (c Curvature) isConcave() bool { return c.isAffine() || c == Concave }

func (c Curvature) negate() Curvature {
	switch c {
	case Convex:
		return Concave
	case Concave:
		return Convex
	default:
		return c
	}
}

// Param is the read side of a live parameter. Scalars are 1x1, vectors are n x 1.
type Param interface {
	Name() string
	Dims() (int, int)
	At(i, j int) float64
	Ready() bool
}

// Expr is a vector-valued expression over decision variables and live parameters.
// Parameters are read at evaluation time, so a compiled expression always reflects the
// latest values.
type Expr interface {
	Len() int
	Curvature() Curvature
	Eval(a Assignment) ([]float64, error)
	String() string
}

type varExpr struct{ v *Variable }

// Var references a whole decision variable.
func Var(v *Variable) Expr { return varExpr{v: v} }

func (e varExpr) Len() int             { return e.v.Len() }
func (e varExpr) Curvature() Curvature { return Affine }
func (e varExpr) String() string       { return e.v.Name() }

func (e varExpr) Eval(a Assignment) ([]float64, error) {
	values, ok := a[e.v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnboundVariable, e.v.Name())
	}
	return values, nil
}

type sliceExpr struct {
	x      Expr
	lo, hi int
}

// Slice selects elements [lo, hi) of x.
func Slice(x Expr, lo, hi int) Expr {
	return sliceExpr{x: x, lo: lo, hi: hi}
}

// Index selects element i of x.
func Index(x Expr, i int) Expr { return Slice(x, i, i+1) }

func (e sliceExpr) Len() int             { return e.hi - e.lo }
func (e sliceExpr) Curvature() Curvature { return e.x.Curvature() }

func (e sliceExpr) String() string {
	if e.hi-e.lo == 1 {
		return fmt.Sprintf("%s[%d]", e.x, e.lo)
	}
	return fmt.Sprintf("%s[%d:%d]", e.x, e.lo, e.hi)
}

func (e sliceExpr) Eval(a Assignment) ([]float64, error) {
	x, err := e.x.Eval(a)
	if err != nil {
		return nil, err
	}
	if e.lo < 0 || e.hi > len(x) || e.lo > e.hi {
		return nil, fmt.Errorf("%w: slice [%d:%d] of length %d", ErrShape, e.lo, e.hi, len(x))
	}
	return x[e.lo:e.hi], nil
}

type paramExpr struct{ p Param }

// ParamExpr uses a scalar or vector parameter as an expression.
func ParamExpr(p Param) Expr { return paramExpr{p: p} }

func (e paramExpr) Len() int {
	r, _ := e.p.Dims()
	return r
}
func (e paramExpr) Curvature() Curvature { return Constant }
func (e paramExpr) String() string       { return e.p.Name() }

func (e paramExpr) Eval(Assignment) ([]float64, error) {
	if !e.p.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrParameterUnset, e.p.Name())
	}
	r, c := e.p.Dims()
	if c != 1 {
		return nil, fmt.Errorf("%w: matrix parameter %s used as a vector", ErrShape, e.p.Name())
	}
	out := make([]float64, r)
	for i := range out {
		out[i] = e.p.At(i, 0)
	}
	return out, nil
}

type constExpr struct{ values []float64 }

// Const is a fixed vector (or scalar when given one value).
func Const(values ...float64) Expr {
	return constExpr{values: append([]float64(nil), values...)}
}

func (e constExpr) Len() int                           { return len(e.values) }
func (e constExpr) Curvature() Curvature               { return Constant }
func (e constExpr) Eval(Assignment) ([]float64, error) { return e.values, nil }

func (e constExpr) String() string {
	if len(e.values) == 1 {
		return fmt.Sprintf("%g", e.values[0])
	}
	parts := make([]string, len(e.values))
	for i, v := range e.values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

type transposeMulExpr struct {
	p Param
	x Expr
}

// TransposeMul is p^T x for an n x k parameter p and a length-n expression x. With a
// vector parameter it is the inner product.
func TransposeMul(p Param, x Expr) Expr { return transposeMulExpr{p: p, x: x} }

func (e transposeMulExpr) Len() int {
	_, c := e.p.Dims()
	return c
}

func (e transposeMulExpr) Curvature() Curvature {
	switch c := e.x.Curvature(); c {
	case Constant, Affine:
		return c
	default:
		return Unknown
	}
}

func (e transposeMulExpr) String() string { return fmt.Sprintf("%s^T @ %s", e.p.Name(), e.x) }

func (e transposeMulExpr) Eval(a Assignment) ([]float64, error) {
	if !e.p.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrParameterUnset, e.p.Name())
	}
	x, err := e.x.Eval(a)
	if err != nil {
		return nil, err
	}
	r, c := e.p.Dims()
	if len(x) != r {
		return nil, fmt.Errorf("%w: %s is %dx%d, operand has length %d", ErrShape, e.p.Name(), r, c, len(x))
	}
	var out mat.VecDense
	out.MulVec(paramMatrix{e.p}.T(), mat.NewVecDense(len(x), append([]float64(nil), x...)))
	return out.RawVector().Data, nil
}

// paramMatrix adapts a Param to mat.Matrix.
type paramMatrix struct{ p Param }

func (m paramMatrix) Dims() (int, int)    { return m.p.Dims() }
func (m paramMatrix) At(i, j int) float64 { return m.p.At(i, j) }
func (m paramMatrix) T() mat.Matrix       { return mat.Transpose{Matrix: m} }

type unaryExpr struct {
	op   string
	x    Expr
	f    func(float64) float64
	sum  bool
	curv Curvature
}

// Abs is the elementwise absolute value.
func Abs(x Expr) Expr {
	return unaryExpr{op: "abs", x: x, f: math.Abs, curv: convexOfAffine(x)}
}

// NegPart is the elementwise negative part max(-x, 0).
func NegPart(x Expr) Expr {
	return unaryExpr{op: "neg", x: x, f: func(v float64) float64 { return math.Max(-v, 0) }, curv: convexOfAffine(x)}
}

// Norm1 is the l1 norm of x.
func Norm1(x Expr) Expr {
	return unaryExpr{op: "norm1", x: x, f: math.Abs, sum: true, curv: convexOfAffine(x)}
}

// Sum adds up the elements of x.
func Sum(x Expr) Expr {
	return unaryExpr{op: "sum", x: x, f: func(v float64) float64 { return v }, sum: true, curv: x.Curvature()}
}

func convexOfAffine(x Expr) Curvature {
	switch x.Curvature() {
	case Constant:
		return Constant
	case Affine:
		return Convex
	default:
		return Unknown
	}
}

func (e unaryExpr) Len() int {
	if e.sum {
		return 1
	}
	return e.x.Len()
}
func (e unaryExpr) Curvature() Curvature { return e.curv }
func (e unaryExpr) String() string       { return fmt.Sprintf("%s(%s)", e.op, e.x) }

func (e unaryExpr) Eval(a Assignment) ([]float64, error) {
	x, err := e.x.Eval(a)
	if err != nil {
		return nil, err
	}
	if e.sum {
		total := 0.0
		for _, v := range x {
			total += e.f(v)
		}
		return []float64{total}, nil
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = e.f(v)
	}
	return out, nil
}

type scaleExpr struct {
	x Expr
	c float64
}

// Scale multiplies x by a constant.
func Scale(x Expr, c float64) Expr { return scaleExpr{x: x, c: c} }

func (e scaleExpr) Len() int { return e.x.Len() }

func (e scaleExpr) Curvature() Curvature {
	if e.c < 0 {
		return e.x.Curvature().negate()
	}
	if e.c == 0 {
		return Constant
	}
	return e.x.Curvature()
}

func (e scaleExpr) String() string { return fmt.Sprintf("%g * %s", e.c, e.x) }

func (e scaleExpr) Eval(a Assignment) ([]float64, error) {
	x, err := e.x.Eval(a)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = e.c * v
	}
	return out, nil
}

type mulExpr struct {
	x Expr
	p Param
}

// MulNonneg multiplies x elementwise by a scalar or vector parameter that must hold
// non-negative values. The sign is checked on every evaluation.
func MulNonneg(x Expr, p Param) Expr { return mulExpr{x: x, p: p} }

func (e mulExpr) Len() int {
	r, _ := e.p.Dims()
	if r > e.x.Len() {
		return r
	}
	return e.x.Len()
}

func (e mulExpr) Curvature() Curvature { return e.x.Curvature() }
func (e mulExpr) String() string       { return fmt.Sprintf("%s .* %s", e.x, e.p.Name()) }

func (e mulExpr) Eval(a Assignment) ([]float64, error) {
	x, err := e.x.Eval(a)
	if err != nil {
		return nil, err
	}
	p, err := paramExpr{p: e.p}.Eval(a)
	if err != nil {
		return nil, err
	}
	for i, v := range p {
		if v < 0 {
			return nil, fmt.Errorf("%w: %s[%d] = %g", ErrSign, e.p.Name(), i, v)
		}
	}
	return broadcast(x, p, func(l, r float64) float64 { return l * r })
}

type addExpr struct{ l, r Expr }

// Add is the elementwise sum with scalar broadcasting.
func Add(l, r Expr) Expr { return addExpr{l: l, r: r} }

// Sub is l - r with scalar broadcasting.
func Sub(l, r Expr) Expr { return addExpr{l: l, r: Scale(r, -1)} }

func (e addExpr) Len() int {
	if e.l.Len() > e.r.Len() {
		return e.l.Len()
	}
	return e.r.Len()
}

func (e addExpr) Curvature() Curvature {
	l, r := e.l.Curvature(), e.r.Curvature()
	switch {
	case l == Constant && r == Constant:
		return Constant
	case l.isAffine() && r.isAffine():
		return Affine
	case l.isConvex() && r.isConvex():
		return Convex
	case l.isConcave() && r.isConcave():
		return Concave
	default:
		return Unknown
	}
}

func (e addExpr) String() string { return fmt.Sprintf("(%s + %s)", e.l, e.r) }

func (e addExpr) Eval(a Assignment) ([]float64, error) {
	l, err := e.l.Eval(a)
	if err != nil {
		return nil, err
	}
	r, err := e.r.Eval(a)
	if err != nil {
		return nil, err
	}
	return broadcast(l, r, func(x, y float64) float64 { return x + y })
}

// broadcast applies f elementwise, expanding a length-1 operand.
func broadcast(l, r []float64, f func(float64, float64) float64) ([]float64, error) {
	n := len(l)
	switch {
	case len(l) == len(r):
	case len(l) == 1:
		n = len(r)
	case len(r) == 1:
	default:
		return nil, fmt.Errorf("%w: lengths %d and %d", ErrShape, len(l), len(r))
	}
	out := make([]float64, n)
	for i := range out {
		li, ri := l[0], r[0]
		if len(l) > 1 {
			li = l[i]
		}
		if len(r) > 1 {
			ri = r[i]
		}
		out[i] = f(li, ri)
	}
	return out, nil
}
