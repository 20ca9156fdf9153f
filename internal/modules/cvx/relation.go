package cvx

import (
	"fmt"
	"math"
)

// Op is the comparison of a relation.
type Op int

const (
	LessEq Op = iota
	GreaterEq
	Equal
)

func (o Op) String() string {
	switch o {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	case Equal:
		return "=="
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Relation is one convex (in)equality produced by a constraint. It references live
// parameters, so it is built once and re-evaluated after every parameter update.
type Relation struct {
	Name  string
	Op    Op
	Left  Expr
	Right Expr
}

// NewLessEq builds left <= right.
func NewLessEq(name string, left, right Expr) Relation {
	return Relation{Name: name, Op: LessEq, Left: left, Right: right}
}

// NewGreaterEq builds left >= right.
func NewGreaterEq(name string, left, right Expr) Relation {
	return Relation{Name: name, Op: GreaterEq, Left: left, Right: right}
}

// NewEqual builds left == right.
func NewEqual(name string, left, right Expr) Relation {
	return Relation{Name: name, Op: Equal, Left: left, Right: right}
}

func (r Relation) String() string {
	return fmt.Sprintf("%s %s %s", r.Left, r.Op, r.Right)
}

// Len returns the number of scalar rows after broadcasting.
func (r Relation) Len() int {
	if r.Left.Len() > r.Right.Len() {
		return r.Left.Len()
	}
	return r.Right.Len()
}

// Validate checks that both sides can be compared elementwise.
func (r Relation) Validate() error {
	l, rr := r.Left.Len(), r.Right.Len()
	if l != rr && l != 1 && rr != 1 {
		return fmt.Errorf("%s: %w: left has length %d, right has length %d", r.Name, ErrShape, l, rr)
	}
	return nil
}

// IsDCP reports whether the relation follows the disciplined convex programming rules:
// convex <= concave, concave >= convex, affine == affine.
func (r Relation) IsDCP() bool {
	l, rr := r.Left.Curvature(), r.Right.Curvature()
	switch r.Op {
	case LessEq:
		return l.isConvex() && rr.isConcave()
	case GreaterEq:
		return l.isConcave() && rr.isConvex()
	case Equal:
		return l.isAffine() && rr.isAffine()
	default:
		return false
	}
}

// Residual returns left - right per row.
func (r Relation) Residual(a Assignment) ([]float64, error) {
	l, err := r.Left.Eval(a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name, err)
	}
	rr, err := r.Right.Eval(a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name, err)
	}
	res, err := broadcast(l, rr, func(x, y float64) float64 { return x - y })
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.Name, err)
	}
	return res, nil
}

// Violations returns the amount by which each row is violated (0 when it holds).
func (r Relation) Violations(a Assignment) ([]float64, error) {
	res, err := r.Residual(a)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(res))
	for i, v := range res {
		switch r.Op {
		case LessEq:
			out[i] = math.Max(v, 0)
		case GreaterEq:
			out[i] = math.Max(-v, 0)
		case Equal:
			out[i] = math.Abs(v)
		}
	}
	return out, nil
}

// Satisfied reports whether every row holds within tol. With tol = 0 equalities must
// hold exactly.
func (r Relation) Satisfied(a Assignment, tol float64) (bool, error) {
	v, err := r.Violations(a)
	if err != nil {
		return false, err
	}
	for _, x := range v {
		if x > tol || math.IsNaN(x) {
			return false, nil
		}
	}
	return true, nil
}
