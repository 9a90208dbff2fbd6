package scheduler

import (
	"errors"
	"fmt"

	"github.com/limiquantix/planner/internal/model"
)

var (
	// ErrUnknownVM is returned when a VM is absent from the source model.
	ErrUnknownVM = model.ErrUnknownVM

	// ErrUnknownNode is returned when a node is absent from the source model.
	ErrUnknownNode = model.ErrUnknownNode

	// ErrOverlappingStates is returned when a VM is requested in several states.
	ErrOverlappingStates = errors.New("vm requested in several states")

	// ErrMissingState is returned when a VM has no requested state.
	ErrMissingState = errors.New("vm has no requested state")

	// ErrNoTransition is returned when no transition leads from the current state to the requested one.
	ErrNoTransition = errors.New("no transition available")

	// ErrContinuousUnsupported is returned by constraints that cannot hold at every instant.
	ErrContinuousUnsupported = errors.New("continuous restriction is not supported")

	// ErrNotSatisfiedInitially is returned when a continuous constraint is violated by the source model.
	ErrNotSatisfiedInitially = errors.New("continuous constraint is not satisfied by the source model")

	// ErrInvalidDuration is returned when an action duration is not strictly positive.
	ErrInvalidDuration = errors.New("invalid action duration")

	// ErrUnknownResource is returned when a constraint references a resource view absent from the model.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrInvalidArgument is returned for malformed constraint arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// BuildError reports a failure raised before the search starts.
type BuildError struct {
	// Constraint is the failing constraint, empty for model-level failures.
	Constraint string
	// Entity is the VM or node at stake, if any.
	Entity string
	Err    error
}

func (e *BuildError) Error() string {
	switch {
	case e.Constraint != "" && e.Entity != "":
		return fmt.Sprintf("%s: %s: %v", e.Constraint, e.Entity, e.Err)
	case e.Constraint != "":
		return fmt.Sprintf("%s: %v", e.Constraint, e.Err)
	case e.Entity != "":
		return fmt.Sprintf("%s: %v", e.Entity, e.Err)
	}
	return e.Err.Error()
}

func (e *BuildError) Unwrap() error { return e.Err }
