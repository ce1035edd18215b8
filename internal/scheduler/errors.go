package scheduler

import (
	"fmt"

	"github.com/voxlogica/voxengine/internal/identity"
)

// DependencyFailure wraps a prerequisite node's failure; dependents observe
// this rather than the raw inner error, which is preserved via Unwrap for
// diagnostics (spec.md §7).
type DependencyFailure struct {
	NodeID identity.NodeID
	Err    error
}

func (e *DependencyFailure) Error() string {
	return fmt.Sprintf("scheduler: dependency %s failed: %v", e.NodeID, e.Err)
}

func (e *DependencyFailure) Unwrap() error { return e.Err }

// PrimitiveFailure indicates a primitive raised an error during invocation
// (spec.md §7).
type PrimitiveFailure struct {
	Operator string
	Err      error
}

func (e *PrimitiveFailure) Error() string {
	return fmt.Sprintf("scheduler: primitive %q failed: %v", e.Operator, e.Err)
}

func (e *PrimitiveFailure) Unwrap() error { return e.Err }

// StoreError marks a persistent store failure; per spec.md §7 this is the
// only error class that aborts scheduling entirely.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("scheduler: store error: %v", e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
