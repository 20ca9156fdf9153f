// Package estimator implements the two-phase estimation protocol: structural setup
// once per backtest (PreEvaluation) followed by in-place updates of live parameters at
// every step (ValuesInTime).
package estimator

import (
	"fmt"
	"time"

	"github.com/aristath/sentinel-cvx/internal/domain"
)

// Estimator is anything that is told the universe and timeline once and then updated
// at each timestep.
type Estimator interface {
	PreEvaluation(universe domain.Universe, timeline domain.Timeline) error
	ValuesInTime(t time.Time, ctx *domain.MarketContext) error
}

// ParameterOwner exposes the live parameters an estimator owns, for snapshots.
type ParameterOwner interface {
	Parameters() []*Parameter
}

// Finisher is implemented by estimators that track the end of a backtest.
type Finisher interface {
	Finish()
}

// HistoryRequirer is implemented by estimators that need past observations in the
// market context before their first ValuesInTime call.
type HistoryRequirer interface {
	MinHistory() int
}

// RequiredHistory returns the number of past observations e needs, the largest
// requirement of e and, recursively, of its children.
func RequiredHistory(e Estimator) int {
	n := 0
	if h, ok := e.(HistoryRequirer); ok {
		n = h.MinHistory()
	}
	if c, ok := e.(interface{ Children() []Estimator }); ok {
		for _, child := range c.Children() {
			n = max(n, RequiredHistory(child))
		}
	}
	return n
}

// State is a lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle tracks the UNINITIALIZED -> READY -> DONE state machine and enforces
// chronological ValuesInTime calls.
type Lifecycle struct {
	name     string
	state    State
	stepped  bool
	lastT    time.Time
	lastStep int
}

// NewLifecycle returns an uninitialized lifecycle for the named estimator.
func NewLifecycle(name string) Lifecycle {
	return Lifecycle{name: name}
}

// Start marks pre-evaluation as done and resets the clock.
func (l *Lifecycle) Start() {
	l.state = StateReady
	l.stepped = false
	l.lastT = time.Time{}
	l.lastStep = 0
}

// Finish marks the end of the backtest.
func (l *Lifecycle) Finish() {
	l.state = StateDone
}

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// Ready returns an error unless pre-evaluation has happened and Finish has not.
func (l *Lifecycle) Ready() error {
	switch l.state {
	case StateUninitialized:
		return &UninitializedError{Estimator: l.name}
	case StateDone:
		return fmt.Errorf("%s: %w", l.name, ErrFinished)
	}
	return nil
}

// Advance validates a ValuesInTime call at (t, step) and records it.
func (l *Lifecycle) Advance(t time.Time, step int) error {
	if err := l.Ready(); err != nil {
		return err
	}
	if step < 0 {
		return fmt.Errorf("%s: negative mpo step %d", l.name, step)
	}
	if l.stepped && (t.Before(l.lastT) || (t.Equal(l.lastT) && step < l.lastStep)) {
		return fmt.Errorf("%s: %w: (%s, %d) after (%s, %d)", l.name, ErrOutOfOrder,
			t.Format(time.RFC3339), step, l.lastT.Format(time.RFC3339), l.lastStep)
	}
	l.stepped = true
	l.lastT = t
	l.lastStep = step
	return nil
}

// Composite forwards the protocol calls to child estimators in registration order.
type Composite struct {
	children []Estimator
}

// Add registers children.
func (c *Composite) Add(children ...Estimator) {
	c.children = append(c.children, children...)
}

// Children returns the registered children.
func (c *Composite) Children() []Estimator { return c.children }

// PreEvaluation forwards to every child.
func (c *Composite) PreEvaluation(universe domain.Universe, timeline domain.Timeline) error {
	for i, child := range c.children {
		if err := child.PreEvaluation(universe, timeline); err != nil {
			return fmt.Errorf("child %d pre-evaluation: %w", i, err)
		}
	}
	return nil
}

// ValuesInTime forwards the same context to every child.
func (c *Composite) ValuesInTime(t time.Time, ctx *domain.MarketContext) error {
	for i, child := range c.children {
		if err := child.ValuesInTime(t, ctx); err != nil {
			return fmt.Errorf("child %d values in time: %w", i, err)
		}
	}
	return nil
}

// Parameters collects the live parameters of every child that owns some.
func (c *Composite) Parameters() []*Parameter {
	var out []*Parameter
	for _, child := range c.children {
		if owner, ok := child.(ParameterOwner); ok {
			out = append(out, owner.Parameters()...)
		}
	}
	return out
}

// Finish forwards the end of the backtest to every child that tracks it.
func (c *Composite) Finish() {
	for _, child := range c.children {
		if f, ok := child.(Finisher); ok {
			f.Finish()
		}
	}
}
