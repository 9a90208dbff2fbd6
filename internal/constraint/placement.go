package constraint

import (
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Fence restricts the running VMs to a set of nodes. A VM is only hosted by
// allowed nodes during a migration between two of them, so the continuous
// version posts the same restriction.
type Fence struct{ base }

func NewFence(vms []model.VM, nodes []model.Node) *Fence {
	return &Fence{base{id: "fence", vms: vms, nodes: nodes}}
}

func (c *Fence) String() string { return c.describe() }

func (c *Fence) Inject(p *scheduler.Problem) error {
	allowed := toSet(nodeIndexes(p, c.nodes))
	for _, vm := range c.vms {
		if err := restrictHost(p, vm, allowed); err != nil {
			return err
		}
	}
	return nil
}

func (c *Fence) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Fence) MisplacedVMs(mo *model.Model) []model.VM {
	allowed := toSet(c.nodes)
	var res []model.VM
	for n, vms := range runningOn(mo, c.vms) {
		if !allowed[n] {
			res = append(res, vms...)
		}
	}
	return res
}

// Ban forbids the running VMs to be hosted by a set of nodes.
type Ban struct{ base }

func NewBan(vms []model.VM, nodes []model.Node) *Ban {
	return &Ban{base{id: "ban", vms: vms, nodes: nodes}}
}

func (c *Ban) String() string { return c.describe() }

func (c *Ban) Inject(p *scheduler.Problem) error {
	banned := toSet(nodeIndexes(p, c.nodes))
	for _, vm := range c.vms {
		d := dSlice(p, vm)
		if d == nil {
			continue
		}
		if err := p.Store().Restrict(d.Host, func(n int) bool { return !banned[n] }); err != nil {
			return err
		}
	}
	return nil
}

func (c *Ban) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Ban) MisplacedVMs(mo *model.Model) []model.VM {
	banned := toSet(c.nodes)
	var res []model.VM
	for n, vms := range runningOn(mo, c.vms) {
		if banned[n] {
			res = append(res, vms...)
		}
	}
	return res
}

// Root prevents running VMs from being migrated.
type Root struct{ base }

func NewRoot(vms ...model.VM) *Root {
	return &Root{base{id: "root", vms: vms}}
}

func (c *Root) String() string { return c.describe() }

func (c *Root) Inject(p *scheduler.Problem) error {
	m := p.SourceModel().Mapping()
	for _, vm := range c.vms {
		if err := stayHome(p, m, vm); err != nil {
			return err
		}
	}
	return nil
}

func (c *Root) IsSatisfied(*model.Model) bool { return true }

func (c *Root) MisplacedVMs(*model.Model) []model.VM { return nil }

// stayHome pins the future host of a VM to its current one.
func stayHome(p *scheduler.Problem, m *model.Mapping, vm model.VM) error {
	d := dSlice(p, vm)
	if d == nil {
		return nil
	}
	n, ok := m.Location(vm)
	if !ok {
		return nil
	}
	return p.Store().Assign(d.Host, p.NodeIndex(n))
}

// Quarantine isolates nodes: their VMs cannot leave and no VM can arrive.
// The restriction is continuous by nature.
type Quarantine struct{ base }

func NewQuarantine(nodes ...model.Node) *Quarantine {
	return &Quarantine{base{id: "quarantine", nodes: nodes, continuous: true}}
}

func (c *Quarantine) String() string { return c.describe() }

func (c *Quarantine) Inject(p *scheduler.Problem) error {
	m := p.SourceModel().Mapping()
	zone := toSet(c.nodes)
	banned := toSet(nodeIndexes(p, c.nodes))
	for _, vm := range p.VMs() {
		if n, ok := m.Location(vm); ok && zone[n] {
			if err := stayHome(p, m, vm); err != nil {
				return err
			}
			continue
		}
		d := dSlice(p, vm)
		if d == nil {
			continue
		}
		if err := p.Store().Restrict(d.Host, func(n int) bool { return !banned[n] }); err != nil {
			return err
		}
	}
	return nil
}

func (c *Quarantine) IsSatisfied(*model.Model) bool { return true }

func (c *Quarantine) MisplacedVMs(*model.Model) []model.VM { return nil }
