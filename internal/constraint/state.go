package constraint

import (
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

// vmState requests a state for a set of VMs. The scheduler reads the state
// before building, so the injection itself has nothing to post.
type vmState struct {
	base
	state model.VMState
}

func newVMState(id string, state model.VMState, vms []model.VM) vmState {
	return vmState{base: base{id: id, vms: vms}, state: state}
}

func (c *vmState) NextState() model.VMState { return c.state }

func (c *vmState) String() string { return c.describe() }

func (c *vmState) Inject(*scheduler.Problem) error { return nil }

func (c *vmState) IsSatisfied(mo *model.Model) bool {
	return len(c.MisplacedVMs(mo)) == 0
}

func (c *vmState) MisplacedVMs(mo *model.Model) []model.VM {
	m := mo.Mapping()
	var res []model.VM
	for _, vm := range c.vms {
		if c.state == model.VMStateKilled {
			if m.ContainsVM(vm) {
				res = append(res, vm)
			}
			continue
		}
		if m.VMState(vm) != c.state {
			res = append(res, vm)
		}
	}
	return res
}

// Running requests VMs to be running at the end of the plan.
type Running struct{ vmState }

func NewRunning(vms ...model.VM) *Running {
	return &Running{newVMState("running", model.VMStateRunning, vms)}
}

// Ready requests VMs to be ready, forging the ones that do not exist yet.
type Ready struct{ vmState }

func NewReady(vms ...model.VM) *Ready {
	return &Ready{newVMState("ready", model.VMStateReady, vms)}
}

// Sleeping requests VMs to be suspended on their host.
type Sleeping struct{ vmState }

func NewSleeping(vms ...model.VM) *Sleeping {
	return &Sleeping{newVMState("sleeping", model.VMStateSleeping, vms)}
}

// Killed requests VMs to be removed.
type Killed struct{ vmState }

func NewKilled(vms ...model.VM) *Killed {
	return &Killed{newVMState("killed", model.VMStateKilled, vms)}
}

// Online requests nodes to be online at the end of the plan.
type Online struct{ base }

func NewOnline(nodes ...model.Node) *Online {
	return &Online{base{id: "online", nodes: nodes}}
}

func (c *Online) String() string { return c.describe() }

func (c *Online) Inject(p *scheduler.Problem) error {
	for _, n := range c.nodes {
		if err := p.Store().Assign(p.NodeTransition(n).State(), 1); err != nil {
			return err
		}
	}
	return nil
}

func (c *Online) IsSatisfied(mo *model.Model) bool {
	for _, n := range c.nodes {
		if !mo.Mapping().IsOnline(n) {
			return false
		}
	}
	return true
}

func (c *Online) MisplacedVMs(*model.Model) []model.VM { return nil }

// Offline requests nodes to be offline at the end of the plan. Their VMs have
// to leave.
type Offline struct{ base }

func NewOffline(nodes ...model.Node) *Offline {
	return &Offline{base{id: "offline", nodes: nodes}}
}

func (c *Offline) String() string { return c.describe() }

func (c *Offline) Inject(p *scheduler.Problem) error {
	for _, n := range c.nodes {
		if err := p.Store().Assign(p.NodeTransition(n).State(), 0); err != nil {
			return err
		}
	}
	return nil
}

func (c *Offline) IsSatisfied(mo *model.Model) bool {
	for _, n := range c.nodes {
		if mo.Mapping().IsOnline(n) {
			return false
		}
	}
	return true
}

func (c *Offline) MisplacedVMs(mo *model.Model) []model.VM {
	m := mo.Mapping()
	var res []model.VM
	for _, n := range c.nodes {
		res = append(res, m.RunningVMs(n)...)
	}
	return res
}
