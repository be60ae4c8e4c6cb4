package enviz

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the enviz package.
var (
	// ErrNotFound is returned when a realization, entity, group or property
	// identifier does not exist in the ensemble.
	ErrNotFound = errors.New("identifier not found")

	// ErrNonMonotonicSeries is returned when a time series has duplicate or
	// decreasing time values after loader normalization.
	ErrNonMonotonicSeries = errors.New("series time values not strictly increasing")

	// ErrSchemaMismatch is returned when realizations in an ensemble do not
	// share the same entity identifiers or property names.
	ErrSchemaMismatch = errors.New("entity schema mismatch across realizations")

	// ErrAxisMismatch is returned when a series is aligned against an axis
	// that does not contain one of its time values. The axis must be built
	// from a superset of the series being aligned.
	ErrAxisMismatch = errors.New("series time value not present in axis")

	// ErrEmptyWindow is returned when a compute request selects a time window
	// containing no timesteps.
	ErrEmptyWindow = errors.New("time window contains no timesteps")

	// ErrSuperseded is returned by a deferred computation that was cancelled
	// because a newer request for the same selection replaced it.
	ErrSuperseded = errors.New("computation superseded by newer request")

	// ErrClosed is returned when operations are attempted on a closed session.
	ErrClosed = errors.New("session is closed")

	// ErrReentrantCall is the guard condition raised when a selection
	// observer calls back into the coordinator during a broadcast.
	ErrReentrantCall = errors.New("reentrant coordinator call")
)

// DataError describes a structural problem with input data. It aborts only
// the affected query and never corrupts cached state.
type DataError struct {
	Realization string
	Entity      string
	Property    string
	Message     string
	Cause       error
}

func (e *DataError) Error() string {
	loc := e.Realization
	if e.Entity != "" {
		loc += "/" + e.Entity
	}
	if e.Property != "" {
		loc += "/" + e.Property
	}
	if loc == "" {
		loc = "<ensemble>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("data error at %s: %s: %v", loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("data error at %s: %s", loc, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Cause
}

// ComputeError describes a failure inside the distance or projection
// engines. Undefined per-timestep results are not errors; they are reported
// as absent values so views can render gaps.
type ComputeError struct {
	Stage   string // "distance", "projection" or "rank"
	Message string
	Cause   error
}

func (e *ComputeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *ComputeError) Unwrap() error {
	return e.Cause
}

// Is implements error matching so callers can test against sentinels
// without unwrapping manually.
func (e *ComputeError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}
