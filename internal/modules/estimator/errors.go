package estimator

import (
	"errors"
	"fmt"
)

var (
	// ErrUninitialized is matched by every UninitializedError.
	ErrUninitialized = errors.New("estimator used before pre-evaluation")
	// ErrMissingTimestamp is returned when a time-indexed source has no entry for t.
	ErrMissingTimestamp = errors.New("no value for timestamp")
	// ErrNonFinite is returned when supplied data contains NaN or Inf.
	ErrNonFinite = errors.New("non-finite value")
	// ErrDegenerateData is returned when historical data cannot support a computation
	// (all-zero volume window, too few observations).
	ErrDegenerateData = errors.New("degenerate market data")
	// ErrOutOfOrder is returned when ValuesInTime calls go back in time.
	ErrOutOfOrder = errors.New("values_in_time called out of chronological order")
	// ErrFinished is returned when an estimator is used after Finish.
	ErrFinished = errors.New("estimator already finished")
)

// UninitializedError reports use of an estimator whose live parameters do not exist yet.
type UninitializedError struct {
	Estimator string
}

func (e *UninitializedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Estimator, ErrUninitialized)
}

// Is makes errors.Is(err, ErrUninitialized) hold.
func (e *UninitializedError) Is(target error) bool {
	return target == ErrUninitialized
}

// DimensionMismatchError reports a value whose shape disagrees with the live parameter
// or the universe.
type DimensionMismatchError struct {
	Name     string
	WantRows int
	WantCols int
	GotRows  int
	GotCols  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: dimension mismatch: expected %dx%d, got %dx%d",
		e.Name, e.WantRows, e.WantCols, e.GotRows, e.GotCols)
}
