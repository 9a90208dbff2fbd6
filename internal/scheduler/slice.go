package scheduler

import (
	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
)

// ExclusiveAttribute is the VM attribute marking the slices of a VM as exclusive.
const ExclusiveAttribute = "exclusive"

// Slice is a period during which a VM occupies a host. A consuming slice starts
// at 0 on the current host; a demanding slice ends with the plan on the next host.
type Slice struct {
	Subject  model.VM
	Start    csp.Var
	End      csp.Var
	Duration csp.Var
	Host     csp.Var
	// Exclusive slices never share their host with another VM while active.
	Exclusive bool
}

func (p *Problem) newSlice(label string, vm model.VM, start, end, host csp.Var) *Slice {
	d := p.store.IntVar(label+".duration", 0, p.params.MaxEnd)
	p.store.Post(csp.Plus(start, d, end))
	return &Slice{
		Subject:   vm,
		Start:     start,
		End:       end,
		Duration:  d,
		Host:      host,
		Exclusive: p.src.Attributes().VMBool(vm, ExclusiveAttribute),
	}
}

// consumingSlice occupies host from 0 to end.
func (p *Problem) consumingSlice(label string, vm model.VM, host int, end csp.Var) *Slice {
	return p.newSlice(label+".cSlice", vm, p.start, end, p.store.Const(host))
}

// demandingSlice occupies host from start to the end of the plan.
func (p *Problem) demandingSlice(label string, vm model.VM, start, host csp.Var) *Slice {
	return p.newSlice(label+".dSlice", vm, start, p.end, host)
}

func (p *Problem) timeVar(label string) csp.Var {
	return p.store.IntVar(label, 0, p.params.MaxEnd)
}

func (p *Problem) hostVar(label string) csp.Var {
	if len(p.nodes) == 0 {
		p.infeasible = true
		return p.store.Const(0)
	}
	return p.store.IntVar(label, 0, len(p.nodes)-1)
}
