package constraint

import (
	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

// SequentialVMTransitions executes the state changes of VMs one after the
// other, in the given order. VMs keeping their state are ignored.
type SequentialVMTransitions struct{ base }

func NewSequentialVMTransitions(vms ...model.VM) *SequentialVMTransitions {
	return &SequentialVMTransitions{base{id: "sequentialVMTransitions", vms: vms}}
}

func (c *SequentialVMTransitions) String() string { return c.describe() }

func (c *SequentialVMTransitions) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	var prev scheduler.VMTransition
	for _, vm := range c.vms {
		t := p.VMTransition(vm)
		if t == nil || t.SourceState() == t.NextState() {
			continue
		}
		if prev != nil {
			p.Post(csp.Leq(prev.End(), 0, t.Start()))
		}
		prev = t
	}
	return nil
}

func (c *SequentialVMTransitions) IsSatisfied(*model.Model) bool { return true }

func (c *SequentialVMTransitions) MisplacedVMs(*model.Model) []model.VM { return nil }
