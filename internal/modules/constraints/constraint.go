// Package constraints translates business rules (no leverage above X, stay market
// neutral, ...) into convex relations over the optimization decision variables.
// Every constraint is an estimator: it is set up once per backtest and its live
// parameters are refreshed at every step, so a relation compiled once stays valid.
package constraints

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
	"github.com/aristath/sentinel-cvx/internal/modules/cvx"
	"github.com/aristath/sentinel-cvx/internal/modules/estimator"
)

// Operand marks which decision variables a constraint may read.
type Operand int

const (
	// Weights constraints read w_plus and w_plus_minus_w_bm.
	Weights Operand = iota
	// Trades constraints read z.
	Trades
)

func (o Operand) String() string {
	if o == Trades {
		return "trades"
	}
	return "weights"
}

// View returns the subset of vars an operand is allowed to read.
func (o Operand) View(vars cvx.Variables) cvx.Variables {
	if o == Trades {
		return vars.TradesOnly()
	}
	return vars.WeightsOnly()
}

// Constraint produces exactly one convex relation from its live parameters and the
// decision variables.
type Constraint interface {
	estimator.Estimator
	Name() string
	Operand() Operand
	Compile(vars cvx.Variables) (cvx.Relation, error)
}

// base carries the lifecycle and child forwarding shared by all constraints.
type base struct {
	estimator.Composite
	name      string
	operand   Operand
	universe  domain.Universe
	lifecycle estimator.Lifecycle
}

func newBase(name string, operand Operand) base {
	return base{name: name, operand: operand, lifecycle: estimator.NewLifecycle(name)}
}

// Name returns the constraint name.
func (b *base) Name() string { return b.name }

// Operand returns the decision-variable marker.
func (b *base) Operand() Operand { return b.operand }

// PreEvaluation forwards to the owned estimators and records the universe.
func (b *base) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	if err := b.Composite.PreEvaluation(universe, timeline); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	b.universe = universe
	b.lifecycle.Start()
	return nil
}

// ValuesInTime checks the call order and forwards the context to the owned estimators.
func (b *base) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	if ctx == nil {
		return fmt.Errorf("%s: nil market context", b.name)
	}
	if err := b.lifecycle.Advance(t, ctx.MPOStep); err != nil {
		return err
	}
	if err := b.Composite.ValuesInTime(t, ctx); err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

// Finish ends the lifecycle of the constraint and of its owned estimators.
func (b *base) Finish() {
	b.Composite.Finish()
	b.lifecycle.Finish()
}

// weightAssets returns w_plus without cash.
func (b *base) weightAssets(vars cvx.Variables) (cvx.Expr, error) {
	if err := b.lifecycle.Ready(); err != nil {
		return nil, err
	}
	return b.assets(vars.WPlus, "w_plus")
}

// weightCash returns the cash entry of w_plus.
func (b *base) weightCash(vars cvx.Variables) (cvx.Expr, error) {
	if err := b.lifecycle.Ready(); err != nil {
		return nil, err
	}
	if err := b.checkVariable(vars.WPlus, "w_plus"); err != nil {
		return nil, err
	}
	return cvx.Index(cvx.Var(vars.WPlus), b.universe.CashIndex()), nil
}

// tradeAssets returns z without cash.
func (b *base) tradeAssets(vars cvx.Variables) (cvx.Expr, error) {
	if err := b.lifecycle.Ready(); err != nil {
		return nil, err
	}
	return b.assets(vars.Z, "z")
}

func (b *base) assets(v *cvx.Variable, field string) (cvx.Expr, error) {
	if err := b.checkVariable(v, field); err != nil {
		return nil, err
	}
	return cvx.Slice(cvx.Var(v), 0, b.universe.NumAssets()), nil
}

func (b *base) checkVariable(v *cvx.Variable, field string) error {
	if v == nil {
		return fmt.Errorf("%s: %w: %s is not available to %s constraints", b.name, cvx.ErrUnboundVariable, field, b.operand)
	}
	if v.Len() != b.universe.Len() {
		return &estimator.DimensionMismatchError{
			Name:     b.name + "." + field,
			WantRows: b.universe.Len(),
			WantCols: 1,
			GotRows:  v.Len(),
			GotCols:  1,
		}
	}
	return nil
}

// requireScalar rejects non-scalar live parameters.
func requireScalar(owner string, p *estimator.Parameter) error {
	if p.IsScalar() {
		return nil
	}
	r, c := p.Dims()
	return &estimator.DimensionMismatchError{Name: owner + "." + p.Name(), WantRows: 1, WantCols: 1, GotRows: r, GotCols: c}
}

// requireAssetVector accepts a scalar (broadcast) or a vector with one entry per asset.
func requireAssetVector(owner string, p *estimator.Parameter, u domain.Universe) error {
	if p.IsScalar() {
		return nil
	}
	r, c := p.Dims()
	if p.Shape().Kind == estimator.KindVector && r == u.NumAssets() {
		return nil
	}
	return &estimator.DimensionMismatchError{Name: owner + "." + p.Name(), WantRows: u.NumAssets(), WantCols: 1, GotRows: r, GotCols: c}
}
