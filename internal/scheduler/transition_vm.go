package scheduler

import (
	"fmt"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

func (p *Problem) newVMBase(kind TransitionKind, vm model.VM, next model.VMState) vmBase {
	return vmBase{
		kind:    kind,
		vm:      vm,
		src:     p.src.Mapping().VMState(vm),
		dst:     next,
		managed: true,
		nodes:   p.nodes,
	}
}

func label(kind TransitionKind, vm model.VM) string {
	return fmt.Sprintf("%s(%s)", kind, vm)
}

// timed creates start, end and a fixed duration linked by start + duration = end.
func (p *Problem) timed(t *vmBase, duration int) {
	l := label(t.kind, t.vm)
	t.start = p.timeVar(l + ".start")
	t.end = p.timeVar(l + ".end")
	t.duration = p.store.Const(duration)
	p.store.Post(csp.Plus(t.start, t.duration, t.end))
}

// still makes a transition without action.
func (p *Problem) still(t *vmBase) {
	t.start = p.start
	t.end = p.start
	t.duration = p.store.Const(0)
	t.managed = false
}

// relocatable keeps a running VM running, either on its host or on another one.
type relocatable struct {
	vmBase
	srcHost int
	stay    csp.Var
}

func (p *Problem) newRelocatable(vm model.VM, srcHost int, managed bool) (*relocatable, error) {
	t := &relocatable{vmBase: p.newVMBase(KindRelocatable, vm, model.VMStateRunning), srcHost: srcHost}
	l := label(t.kind, vm)
	if !managed {
		moment := p.timeVar(l + ".moment")
		t.managed = false
		t.start, t.end = moment, moment
		t.duration = p.store.Const(0)
		t.stay = p.store.Const(1)
		t.cSlice = p.consumingSlice(l, vm, srcHost, moment)
		t.dSlice = p.demandingSlice(l, vm, moment, p.store.Const(srcHost))
		return t, nil
	}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionMigrateVM, vm)
	if err != nil {
		return nil, err
	}
	t.start = p.timeVar(l + ".start")
	t.end = p.timeVar(l + ".end")
	t.duration = p.store.EnumVar(l+".duration", []int{0, d})
	p.store.Post(csp.Plus(t.start, t.duration, t.end))
	t.cSlice = p.consumingSlice(l, vm, srcHost, t.end)
	t.dSlice = p.demandingSlice(l, vm, t.start, p.hostVar(l+".dSlice.host"))
	t.stay = p.store.BoolVar(l + ".stay")
	p.store.Post(csp.EqReif(t.stay, t.dSlice.Host, srcHost))
	p.store.Post(csp.EqReif(t.stay, t.duration, 0))
	return t, nil
}

// Stay is 1 when the VM remains on its current host.
func (t *relocatable) Stay() csp.Var { return t.stay }

func (t *relocatable) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	dst := s.Value(t.dSlice.Host)
	if dst == t.srcHost {
		return nil
	}
	return p.Add(plan.MigrateVM(t.vm, t.nodes[t.srcHost], t.nodes[dst], s.Value(t.start), s.Value(t.end)))
}

// bootVM starts a ready VM on a host chosen by the solver.
type bootVM struct{ vmBase }

func (p *Problem) newBootVM(vm model.VM) (*bootVM, error) {
	t := &bootVM{vmBase: p.newVMBase(KindBoot, vm, model.VMStateRunning)}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionBootVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(&t.vmBase, d)
	l := label(t.kind, vm)
	t.dSlice = p.demandingSlice(l, vm, t.start, p.hostVar(l+".dSlice.host"))
	return t, nil
}

func (t *bootVM) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	return p.Add(plan.BootVM(t.vm, t.host(s, t.dSlice), s.Value(t.start), s.Value(t.end)))
}

// shutdownVM stops a running VM. Its resources are released at the end of the action.
type shutdownVM struct {
	vmBase
	srcHost int
}

func (p *Problem) newShutdownVM(vm model.VM, srcHost int) (*shutdownVM, error) {
	t := &shutdownVM{vmBase: p.newVMBase(KindShutdown, vm, model.VMStateReady), srcHost: srcHost}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionShutdownVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(&t.vmBase, d)
	t.cSlice = p.consumingSlice(label(t.kind, vm), vm, srcHost, t.end)
	return t, nil
}

func (t *shutdownVM) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	return p.Add(plan.ShutdownVM(t.vm, t.nodes[t.srcHost], s.Value(t.start), s.Value(t.end)))
}

// suspendVM puts a running VM to sleep on its host.
type suspendVM struct {
	vmBase
	srcHost int
}

func (p *Problem) newSuspendVM(vm model.VM, srcHost int) (*suspendVM, error) {
	t := &suspendVM{vmBase: p.newVMBase(KindSuspend, vm, model.VMStateSleeping), srcHost: srcHost}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionSuspendVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(&t.vmBase, d)
	t.cSlice = p.consumingSlice(label(t.kind, vm), vm, srcHost, t.end)
	return t, nil
}

func (t *suspendVM) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	n := t.nodes[t.srcHost]
	return p.Add(plan.SuspendVM(t.vm, n, n, s.Value(t.start), s.Value(t.end)))
}

// resumeVM wakes a sleeping VM up on a host chosen by the solver.
type resumeVM struct {
	vmBase
	srcHost int
}

func (p *Problem) newResumeVM(vm model.VM, srcHost int) (*resumeVM, error) {
	t := &resumeVM{vmBase: p.newVMBase(KindResume, vm, model.VMStateRunning), srcHost: srcHost}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionResumeVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(&t.vmBase, d)
	l := label(t.kind, vm)
	t.dSlice = p.demandingSlice(l, vm, t.start, p.hostVar(l+".dSlice.host"))
	return t, nil
}

func (t *resumeVM) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	return p.Add(plan.ResumeVM(t.vm, t.nodes[t.srcHost], t.host(s, t.dSlice), s.Value(t.start), s.Value(t.end)))
}

// killVM removes a VM whatever its state. A running VM holds its resources until
// the end of the action.
type killVM struct {
	vmBase
	srcHost int
}

func (p *Problem) newKillVM(vm model.VM) (*killVM, error) {
	t := &killVM{vmBase: p.newVMBase(KindKill, vm, model.VMStateKilled), srcHost: -1}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionKillVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(&t.vmBase, d)
	if host, ok := p.src.Mapping().Location(vm); ok {
		t.srcHost = p.nodeIdx[host]
		if t.src == model.VMStateRunning {
			t.cSlice = p.consumingSlice(label(t.kind, vm), vm, t.srcHost, t.end)
		}
	}
	return t, nil
}

func (t *killVM) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	var src model.Node
	if t.srcHost >= 0 {
		src = t.nodes[t.srcHost]
	}
	return p.Add(plan.KillVM(t.vm, src, s.Value(t.start), s.Value(t.end)))
}

// forgeVM creates a VM that does not exist yet.
type forgeVM struct{ vmBase }

func (p *Problem) newForgeVM(vm model.VM) (*forgeVM, error) {
	t := &forgeVM{vmBase: p.newVMBase(KindForge, vm, model.VMStateReady)}
	d, err := p.params.Durations.EvaluateVM(p.src, plan.ActionForgeVM, vm)
	if err != nil {
		return nil, err
	}
	p.timed(&t.vmBase, d)
	return t, nil
}

func (t *forgeVM) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	return p.Add(plan.ForgeVM(t.vm, s.Value(t.start), s.Value(t.end)))
}

// stayReady leaves a ready VM as it is.
type stayReady struct{ vmBase }

func (p *Problem) newStayReady(vm model.VM) *stayReady {
	t := &stayReady{vmBase: p.newVMBase(KindStayReady, vm, model.VMStateReady)}
	p.still(&t.vmBase)
	return t
}

// stayAway leaves a sleeping VM on its host.
type stayAway struct{ vmBase }

func (p *Problem) newStayAway(vm model.VM) *stayAway {
	t := &stayAway{vmBase: p.newVMBase(KindStayAway, vm, model.VMStateSleeping)}
	p.still(&t.vmBase)
	return t
}
