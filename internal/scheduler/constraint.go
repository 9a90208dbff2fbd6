package scheduler

import (
	"fmt"

	"github.com/limiquantix/planner/internal/model"
)

// Constraint is a placement constraint. Inject encodes it into a problem; it
// must not retain the problem once it returns.
type Constraint interface {
	fmt.Stringer

	// InvolvedVMs and InvolvedNodes list the entities the constraint refers to.
	InvolvedVMs() []model.VM
	InvolvedNodes() []model.Node

	// IsContinuous reports whether the constraint must hold at every instant
	// of the reconfiguration instead of only at its end.
	IsContinuous() bool

	// IsSatisfied checks the constraint against a model.
	IsSatisfied(mo *model.Model) bool

	// Inject posts the constraint. Returning csp.ErrContradiction means the
	// problem has no solution; any other error aborts the build.
	Inject(p *Problem) error

	// MisplacedVMs returns VMs that may have to be moved to satisfy the
	// constraint. The result is a hint and may be incomplete.
	MisplacedVMs(mo *model.Model) []model.VM
}

// StateConstraint is a constraint requesting a state for its VMs. The
// scheduler turns these into the next state of the VMs before building.
type StateConstraint interface {
	Constraint
	NextState() model.VMState
}

// Objective declares the value to optimize.
type Objective interface {
	fmt.Stringer
	// Inject defines the objective variable with Problem.SetObjective and
	// may add search heuristics.
	Inject(p *Problem) error
}

// RequireDiscrete is a helper for constraints that have no continuous version.
func RequireDiscrete(c Constraint) error {
	if c.IsContinuous() {
		return &BuildError{Constraint: c.String(), Err: ErrContinuousUnsupported}
	}
	return nil
}
