// Package cvx provides the convex-relation vocabulary that constraints compile to:
// decision variables, expressions over variables and live parameters, and
// (in)equality relations that can be checked for DCP compliance and evaluated
// numerically at a candidate point.
package cvx

import (
	"errors"
	"fmt"
)

var (
	// ErrUnboundVariable is returned when an expression references a variable that is
	// missing from the assignment or was withheld from the compiler view.
	ErrUnboundVariable = errors.New("unbound decision variable")
	// ErrParameterUnset is returned when a parameter is evaluated before its first update.
	ErrParameterUnset = errors.New("parameter has no value yet")
	// ErrShape is returned when expression lengths cannot be combined.
	ErrShape = errors.New("incompatible expression shapes")
	// ErrSign is returned when a parameter declared non-negative holds a negative value.
	ErrSign = errors.New("parameter sign violated")
)

// Variable is a decision-variable handle owned by the optimization policy.
type Variable struct {
	name string
	size int
}

// NewVariable creates a decision variable of the given length.
func NewVariable(name string, size int) *Variable {
	return &Variable{name: name, size: size}
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// Len returns the variable length.
func (v *Variable) Len() int { return v.size }

// Variables are the three decision vectors a constraint may reference, each sized to
// the universe (assets + cash).
type Variables struct {
	WPlus         *Variable
	Z             *Variable
	WPlusMinusWBm *Variable
}

// NewVariables allocates the decision variables for a universe of size n. The suffix
// distinguishes the periods of a multi-period problem.
func NewVariables(n int, suffix string) Variables {
	return Variables{
		WPlus:         NewVariable("w_plus"+suffix, n),
		Z:             NewVariable("z"+suffix, n),
		WPlusMinusWBm: NewVariable("w_plus_minus_w_bm"+suffix, n),
	}
}

// WeightsOnly withholds the trade vector.
func (v Variables) WeightsOnly() Variables {
	return Variables{WPlus: v.WPlus, WPlusMinusWBm: v.WPlusMinusWBm}
}

// TradesOnly withholds the weight vectors.
func (v Variables) TradesOnly() Variables {
	return Variables{Z: v.Z}
}

// Assignment maps variables to candidate numeric values.
type Assignment map[*Variable][]float64

// NewAssignment binds numeric vectors to the three decision variables.
func NewAssignment(vars Variables, wPlus, z, wPlusMinusWBm []float64) (Assignment, error) {
	a := make(Assignment, 3)
	for _, b := range []struct {
		v      *Variable
		values []float64
	}{
		{vars.WPlus, wPlus},
		{vars.Z, z},
		{vars.WPlusMinusWBm, wPlusMinusWBm},
	} {
		if b.v == nil || b.values == nil {
			continue
		}
		if len(b.values) != b.v.Len() {
			return nil, fmt.Errorf("%w: %s has length %d, got %d values", ErrShape, b.v.Name(), b.v.Len(), len(b.values))
		}
		a[b.v] = b.values
	}
	return a, nil
}
