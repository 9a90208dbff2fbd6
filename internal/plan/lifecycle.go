package plan

import (
	"github.com/looplab/fsm"

	"github.com/limiquantix/planner/internal/model"
)

const (
	eventForge    = "forge"
	eventBoot     = "boot"
	eventShutdown = "shutdown"
	eventMigrate  = "migrate"
	eventSuspend  = "suspend"
	eventResume   = "resume"
	eventKill     = "kill"
)

// newVMLifecycle returns the state machine of a VM starting in the given state.
func newVMLifecycle(initial model.VMState) *fsm.FSM {
	created := string(model.VMStateInit)
	ready := string(model.VMStateReady)
	running := string(model.VMStateRunning)
	sleeping := string(model.VMStateSleeping)
	killed := string(model.VMStateKilled)

	return fsm.NewFSM(string(initial), fsm.Events{
		{Name: eventForge, Src: []string{created}, Dst: ready},
		{Name: eventBoot, Src: []string{ready}, Dst: running},
		{Name: eventShutdown, Src: []string{running}, Dst: ready},
		{Name: eventMigrate, Src: []string{running}, Dst: running},
		{Name: eventSuspend, Src: []string{running}, Dst: sleeping},
		{Name: eventResume, Src: []string{sleeping}, Dst: running},
		{Name: eventKill, Src: []string{created, ready, running, sleeping}, Dst: killed},
	}, fsm.Callbacks{})
}

// newNodeLifecycle returns the state machine of a node starting in the given state.
func newNodeLifecycle(initial model.NodeState) *fsm.FSM {
	return fsm.NewFSM(string(initial), fsm.Events{
		{Name: eventBoot, Src: []string{string(model.NodeStateOffline)}, Dst: string(model.NodeStateOnline)},
		{Name: eventShutdown, Src: []string{string(model.NodeStateOnline)}, Dst: string(model.NodeStateOffline)},
	}, fsm.Callbacks{})
}

var vmEvents = map[ActionKind]struct {
	event string
	to    model.VMState
}{
	ActionForgeVM:    {eventForge, model.VMStateReady},
	ActionBootVM:     {eventBoot, model.VMStateRunning},
	ActionShutdownVM: {eventShutdown, model.VMStateReady},
	ActionMigrateVM:  {eventMigrate, model.VMStateRunning},
	ActionSuspendVM:  {eventSuspend, model.VMStateSleeping},
	ActionResumeVM:   {eventResume, model.VMStateRunning},
	ActionKillVM:     {eventKill, model.VMStateKilled},
}

// IsLegal reports whether an action of the given kind may be applied on a VM in
// state from. The scheduler selects VM transitions with it.
func IsLegal(kind ActionKind, from model.VMState) bool {
	e, ok := vmEvents[kind]
	if !ok {
		return false
	}
	return newVMLifecycle(from).Can(e.event)
}

// ResultingState returns the state of a VM after an action of the given kind.
func ResultingState(kind ActionKind) (model.VMState, bool) {
	e, ok := vmEvents[kind]
	return e.to, ok
}
