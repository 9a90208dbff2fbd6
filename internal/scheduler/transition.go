package scheduler

import (
	"fmt"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

// TransitionKind identifies the model used for an entity.
type TransitionKind string

const (
	KindForge        TransitionKind = "forge"
	KindStayReady    TransitionKind = "stay-ready"
	KindBoot         TransitionKind = "boot"
	KindRelocatable  TransitionKind = "relocatable"
	KindShutdown     TransitionKind = "shutdown"
	KindSuspend      TransitionKind = "suspend"
	KindStayAway     TransitionKind = "stay-away"
	KindResume       TransitionKind = "resume"
	KindKill         TransitionKind = "kill"
	KindShutdownable TransitionKind = "shutdownable-node"
	KindBootable     TransitionKind = "bootable-node"
)

// Transition models the evolution of one entity during the plan.
type Transition interface {
	Kind() TransitionKind
	Start() csp.Var
	End() csp.Var
	Duration() csp.Var
	// IsManaged reports whether the solver may alter the entity.
	IsManaged() bool
	// InsertActions adds the actions of the solved transition to the plan.
	InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error
}

// VMTransition is the transition of a VM.
type VMTransition interface {
	Transition
	VM() model.VM
	SourceState() model.VMState
	NextState() model.VMState
	// CSlice is the consuming slice, nil when the VM is not running at the beginning.
	CSlice() *Slice
	// DSlice is the demanding slice, nil when the VM is not running at the end.
	DSlice() *Slice
}

// Relocation is the transition of a VM running before and after the plan.
type Relocation interface {
	VMTransition
	// Stay is 1 when the VM remains on its current host.
	Stay() csp.Var
}

// NodeTransition is the transition of a node.
type NodeTransition interface {
	Transition
	Node() model.Node
	// State is 1 when the node is online at the end of the plan.
	State() csp.Var
	// HostingStart is the moment the node may start hosting VMs.
	HostingStart() csp.Var
	// HostingEnd is the moment the node stops hosting VMs.
	HostingEnd() csp.Var
}

// SelectVMTransition returns the transition kind moving a VM from cur to next.
func SelectVMTransition(cur, next model.VMState) (TransitionKind, error) {
	if cur == next {
		switch cur {
		case model.VMStateReady:
			return KindStayReady, nil
		case model.VMStateRunning:
			return KindRelocatable, nil
		case model.VMStateSleeping:
			return KindStayAway, nil
		}
	}
	for _, a := range vmActions {
		if to, _ := plan.ResultingState(a.action); to == next && plan.IsLegal(a.action, cur) {
			return a.kind, nil
		}
	}
	return "", fmt.Errorf("from %s to %s: %w", cur, next, ErrNoTransition)
}

// vmActions maps the VM lifecycle actions to the transitions performing them.
var vmActions = []struct {
	action plan.ActionKind
	kind   TransitionKind
}{
	{plan.ActionForgeVM, KindForge},
	{plan.ActionBootVM, KindBoot},
	{plan.ActionShutdownVM, KindShutdown},
	{plan.ActionSuspendVM, KindSuspend},
	{plan.ActionResumeVM, KindResume},
	{plan.ActionKillVM, KindKill},
}

// vmBase holds what every VM transition shares.
type vmBase struct {
	kind           TransitionKind
	vm             model.VM
	src, dst       model.VMState
	start, end     csp.Var
	duration       csp.Var
	cSlice, dSlice *Slice
	managed        bool
	nodes          []model.Node
}

func (t *vmBase) Kind() TransitionKind { return t.kind }
func (t *vmBase) VM() model.VM { return t.vm }
func (t *vmBase) SourceState() model.VMState { return t.src }
func (t *vmBase) NextState() model.VMState { return t.dst }
func (t *vmBase) Start() csp.Var { return t.start }
func (t *vmBase) End() csp.Var { return t.end }
func (t *vmBase) Duration() csp.Var { return t.duration }
func (t *vmBase) CSlice() *Slice { return t.cSlice }
func (t *vmBase) DSlice() *Slice { return t.dSlice }
func (t *vmBase) IsManaged() bool { return t.managed }
func (t *vmBase) String() string { return fmt.Sprintf("%s(%s)", t.kind, t.vm) }

// InsertActions does nothing for transitions without action.
func (t *vmBase) InsertActions(*csp.Store, *plan.ReconfigurationPlan) error { return nil }

func (t *vmBase) host(s *csp.Store, sl *Slice) model.Node {
	return t.nodes[s.Value(sl.Host)]
}
