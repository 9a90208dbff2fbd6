package constraint

import (
	"fmt"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Spread places the running VMs on distinct nodes. In continuous mode, a VM
// arrives on a node only once the other VMs of the set have left it.
type Spread struct{ base }

func NewSpread(vms ...model.VM) *Spread {
	return &Spread{base{id: "spread", vms: vms}}
}

func (c *Spread) String() string { return c.describe() }

func (c *Spread) Inject(p *scheduler.Problem) error {
	hosts := p.FutureHosts(c.vms)
	if len(hosts) > 1 {
		p.Post(csp.AllDifferent(hosts))
	}
	if c.continuous {
		arriveAfterLeaving(p, c.vms, c.vms)
	}
	return nil
}

func (c *Spread) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Spread) MisplacedVMs(mo *model.Model) []model.VM {
	var res []model.VM
	for _, vms := range runningOn(mo, c.vms) {
		if len(vms) > 1 {
			res = append(res, vms...)
		}
	}
	return res
}

// Gather places the running VMs on a single node.
type Gather struct{ base }

func NewGather(vms ...model.VM) *Gather {
	return &Gather{base{id: "gather", vms: vms}}
}

func (c *Gather) String() string { return c.describe() }

func (c *Gather) Inject(p *scheduler.Problem) error {
	hosts := p.FutureHosts(c.vms)
	if c.continuous {
		// The VMs already running have a single node they cannot leave.
		on := runningOn(p.SourceModel(), c.vms)
		for n := range on {
			for _, h := range hosts {
				if err := p.Store().Assign(h, p.NodeIndex(n)); err != nil {
					return err
				}
			}
		}
	}
	if len(hosts) > 1 {
		p.Post(csp.AllEqual(hosts))
	}
	return nil
}

func (c *Gather) IsSatisfied(mo *model.Model) bool {
	return len(runningOn(mo, c.vms)) <= 1
}

func (c *Gather) MisplacedVMs(mo *model.Model) []model.VM {
	on := runningOn(mo, c.vms)
	if len(on) <= 1 {
		return nil
	}
	var res []model.VM
	for _, vms := range on {
		res = append(res, vms...)
	}
	return res
}

// Lonely prevents the running VMs of the set from sharing a node with other VMs.
type Lonely struct{ base }

func NewLonely(vms ...model.VM) *Lonely {
	return &Lonely{base{id: "lonely", vms: vms}}
}

func (c *Lonely) String() string { return c.describe() }

func (c *Lonely) others(vms []model.VM) []model.VM {
	mine := toSet(c.vms)
	var res []model.VM
	for _, vm := range vms {
		if !mine[vm] {
			res = append(res, vm)
		}
	}
	return res
}

func (c *Lonely) Inject(p *scheduler.Problem) error {
	others := c.others(p.VMs())
	mine, theirs := p.FutureHosts(c.vms), p.FutureHosts(others)
	if len(mine) > 0 && len(theirs) > 0 {
		p.Post(csp.Disjoint([][]csp.Var{mine, theirs}))
	}
	if c.continuous {
		arriveAfterLeaving(p, c.vms, others)
		arriveAfterLeaving(p, others, c.vms)
	}
	return nil
}

func (c *Lonely) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Lonely) MisplacedVMs(mo *model.Model) []model.VM {
	m := mo.Mapping()
	mine := toSet(c.vms)
	bad := make(map[model.VM]bool)
	for n, vms := range runningOn(mo, c.vms) {
		for _, o := range m.RunningVMs(n) {
			if !mine[o] {
				for _, vm := range vms {
					bad[vm] = true
				}
				break
			}
		}
	}
	return sortedVMs(bad)
}

// Split keeps groups of running VMs on disjoint sets of nodes.
type Split struct {
	base
	groups [][]model.VM
}

func NewSplit(groups ...[]model.VM) *Split {
	return &Split{base: base{id: "split", vms: flatten(groups)}, groups: groups}
}

// Groups returns the groups of VMs.
func (c *Split) Groups() [][]model.VM { return c.groups }

func (c *Split) String() string {
	return fmt.Sprintf("split(groups=%s, %s)", groups(c.groups), mode(c.continuous))
}

func (c *Split) Inject(p *scheduler.Problem) error {
	var hosts [][]csp.Var
	for _, g := range c.groups {
		if h := p.FutureHosts(g); len(h) > 0 {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) > 1 {
		p.Post(csp.Disjoint(hosts))
	}
	if c.continuous {
		for i, g := range c.groups {
			for j, o := range c.groups {
				if i != j {
					arriveAfterLeaving(p, g, o)
				}
			}
		}
	}
	return nil
}

func (c *Split) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Split) MisplacedVMs(mo *model.Model) []model.VM {
	owner := make(map[model.VM]int)
	for i, g := range c.groups {
		for _, vm := range g {
			owner[vm] = i
		}
	}
	bad := make(map[model.VM]bool)
	for _, vms := range runningOn(mo, c.vms) {
		for _, a := range vms {
			for _, b := range vms {
				if owner[a] != owner[b] {
					bad[a], bad[b] = true, true
				}
			}
		}
	}
	return sortedVMs(bad)
}

// Among places the running VMs inside one of several groups of nodes.
type Among struct {
	base
	nodeGroups [][]model.Node
}

func NewAmong(vms []model.VM, nodeGroups [][]model.Node) *Among {
	return &Among{base: base{id: "among", vms: vms, nodes: flatten(nodeGroups)}, nodeGroups: nodeGroups}
}

func (c *Among) String() string {
	return fmt.Sprintf("among(vms=%s, nodes=%s, %s)", list(c.vms), groups(c.nodeGroups), mode(c.continuous))
}

func (c *Among) Inject(p *scheduler.Problem) error {
	_, err := injectAmong(p, c.vms, c.nodeGroups, c.continuous)
	return err
}

func (c *Among) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Among) MisplacedVMs(mo *model.Model) []model.VM {
	used := make(map[int]bool)
	for n := range runningOn(mo, c.vms) {
		used[groupOf(n, c.nodeGroups)] = true
	}
	if len(used) > 1 || used[-1] {
		return c.vms
	}
	return nil
}

func groupOf(n model.Node, gs [][]model.Node) int {
	for i, g := range gs {
		for _, x := range g {
			if x == n {
				return i
			}
		}
	}
	return -1
}

// injectAmong returns the variable holding the group of nodes hosting the VMs.
// When the group is already known, it is fixed and the VMs are fenced into it.
func injectAmong(p *scheduler.Problem, vms []model.VM, gs [][]model.Node, continuous bool) (csp.Var, error) {
	s := p.Store()
	selected := -1
	if len(gs) == 1 {
		selected = 0
	}
	if continuous {
		for n := range runningOn(p.SourceModel(), vms) {
			g := groupOf(n, gs)
			if g < 0 || (selected >= 0 && g != selected) {
				return 0, fmt.Errorf("vms %s are not inside a single group: %w", list(vms), scheduler.ErrNotSatisfiedInitially)
			}
			selected = g
		}
	}
	hosts := p.FutureHosts(vms)
	if selected >= 0 {
		allowed := toSet(nodeIndexes(p, gs[selected]))
		for _, h := range hosts {
			if err := s.Restrict(h, func(n int) bool { return allowed[n] }); err != nil {
				return 0, err
			}
		}
		return s.Const(selected), nil
	}
	table := make([]int, len(p.Nodes()))
	for i, n := range p.Nodes() {
		table[i] = groupOf(n, gs)
	}
	grp := s.IntVar(fmt.Sprintf("among(%s).group", list(vms)), 0, len(gs)-1)
	for _, h := range hosts {
		p.Post(csp.ElementConst(h, table, grp))
	}
	return grp, nil
}

// SplitAmong places every group of VMs among the groups of nodes, two groups
// of VMs never sharing a group of nodes. It has no continuous version.
type SplitAmong struct {
	base
	vmGroups   [][]model.VM
	nodeGroups [][]model.Node
}

func NewSplitAmong(vmGroups [][]model.VM, nodeGroups [][]model.Node) *SplitAmong {
	return &SplitAmong{
		base:       base{id: "splitAmong", vms: flatten(vmGroups), nodes: flatten(nodeGroups)},
		vmGroups:   vmGroups,
		nodeGroups: nodeGroups,
	}
}

func (c *SplitAmong) String() string {
	return fmt.Sprintf("splitAmong(vms=%s, nodes=%s, %s)", groups(c.vmGroups), groups(c.nodeGroups), mode(c.continuous))
}

func (c *SplitAmong) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	vars := make([]csp.Var, 0, len(c.vmGroups))
	for _, g := range c.vmGroups {
		if len(p.FutureHosts(g)) == 0 {
			continue
		}
		v, err := injectAmong(p, g, c.nodeGroups, false)
		if err != nil {
			return err
		}
		vars = append(vars, v)
	}
	if len(vars) > 1 {
		p.Post(csp.AllDifferent(vars))
	}
	return nil
}

func (c *SplitAmong) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *SplitAmong) MisplacedVMs(mo *model.Model) []model.VM {
	bad := make(map[model.VM]bool)
	owner := make(map[int]int)
	for i, g := range c.vmGroups {
		used := make(map[int]bool)
		for n := range runningOn(mo, g) {
			used[groupOf(n, c.nodeGroups)] = true
		}
		misplaced := len(used) > 1 || used[-1]
		for grp := range used {
			if o, ok := owner[grp]; ok && o != i && grp >= 0 {
				misplaced = true
				for _, vm := range c.vmGroups[o] {
					bad[vm] = true
				}
			}
			owner[grp] = i
		}
		if misplaced {
			for _, vm := range g {
				bad[vm] = true
			}
		}
	}
	return sortedVMs(bad)
}

func mode(continuous bool) string {
	if continuous {
		return "continuous"
	}
	return "discrete"
}
