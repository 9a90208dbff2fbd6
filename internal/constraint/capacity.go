package constraint

import (
	"fmt"
	"math"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

func resource(p *scheduler.Problem, c scheduler.Constraint, id string) (*scheduler.ResourceMapping, error) {
	rm, ok := p.Resource(id)
	if !ok {
		return nil, &scheduler.BuildError{Constraint: c.String(), Entity: id, Err: scheduler.ErrUnknownResource}
	}
	return rm, nil
}

func view(mo *model.Model, id string) *model.ShareableResource {
	r, ok := mo.View(id)
	if !ok {
		return model.NewShareableResource(id, 0, 0)
	}
	return r
}

// overloaded returns the VMs running on nodes where the consumption of r
// exceeds limit(node).
func overloaded(mo *model.Model, r *model.ShareableResource, nodes []model.Node, limit func(model.Node) int) []model.VM {
	m := mo.Mapping()
	var res []model.VM
	for _, n := range nodes {
		vms := m.RunningVMs(n)
		if r.SumConsumption(vms) > limit(n) {
			res = append(res, vms...)
		}
	}
	return res
}

// Preserve guarantees an amount of resource to VMs once the plan is applied.
type Preserve struct {
	base
	resource string
	amount   int
}

func NewPreserve(vms []model.VM, resource string, amount int) *Preserve {
	return &Preserve{base: base{id: "preserve", vms: vms}, resource: resource, amount: amount}
}

func (c *Preserve) String() string {
	return c.describe(fmt.Sprintf("rc=%s", c.resource), fmt.Sprintf("amount=%d", c.amount))
}

func (c *Preserve) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	rm, err := resource(p, c, c.resource)
	if err != nil {
		return err
	}
	for _, vm := range c.vms {
		if u, ok := rm.Usage(p.VMIndex(vm)); ok {
			if err := p.Store().UpdateLB(u, c.amount); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Preserve) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Preserve) MisplacedVMs(mo *model.Model) []model.VM {
	r := view(mo, c.resource)
	m := mo.Mapping()
	var res []model.VM
	for _, vm := range c.vms {
		if m.VMState(vm) == model.VMStateRunning && r.Consumption(vm) < c.amount {
			res = append(res, vm)
		}
	}
	return res
}

// Overbook sets the ratio between the virtual and the physical capacity of nodes.
// The capacity is checked at every instant so the restriction is continuous by default.
type Overbook struct {
	base
	resource string
	ratio    float64
}

func NewOverbook(nodes []model.Node, resource string, ratio float64) *Overbook {
	return &Overbook{base: base{id: "overbook", nodes: nodes, continuous: true}, resource: resource, ratio: ratio}
}

func (c *Overbook) String() string {
	return c.describe(fmt.Sprintf("rc=%s", c.resource), fmt.Sprintf("ratio=%g", c.ratio))
}

func (c *Overbook) Inject(p *scheduler.Problem) error {
	if c.ratio < 1 {
		return &scheduler.BuildError{Constraint: c.String(), Err: fmt.Errorf("ratio %g below 1: %w", c.ratio, scheduler.ErrInvalidArgument)}
	}
	rm, err := resource(p, c, c.resource)
	if err != nil {
		return err
	}
	for _, n := range nodeIndexes(p, c.nodes) {
		rm.CapOverbookRatio(n, c.ratio)
	}
	return nil
}

func (c *Overbook) IsSatisfied(mo *model.Model) bool { return len(c.MisplacedVMs(mo)) == 0 }

func (c *Overbook) MisplacedVMs(mo *model.Model) []model.VM {
	r := view(mo, c.resource)
	return overloaded(mo, r, c.nodes, func(n model.Node) int {
		return int(math.Floor(float64(r.Capacity(n)) * c.ratio))
	})
}

// SingleResourceCapacity bounds the resource used on every node of a set.
type SingleResourceCapacity struct {
	base
	resource string
	amount   int
}

func NewSingleResourceCapacity(nodes []model.Node, resource string, amount int) *SingleResourceCapacity {
	return &SingleResourceCapacity{base: base{id: "singleResourceCapacity", nodes: nodes}, resource: resource, amount: amount}
}

func (c *SingleResourceCapacity) String() string {
	return c.describe(fmt.Sprintf("rc=%s", c.resource), fmt.Sprintf("amount=%d", c.amount))
}

func (c *SingleResourceCapacity) Inject(p *scheduler.Problem) error {
	rm, err := resource(p, c, c.resource)
	if err != nil {
		return err
	}
	for _, n := range nodeIndexes(p, c.nodes) {
		if c.continuous {
			rm.CapCapacity(n, c.amount)
			continue
		}
		// Only the end of the plan is bounded, an overloaded node may be relieved.
		rm.PostSetCapacity(p, []int{n}, c.amount)
	}
	return nil
}

func (c *SingleResourceCapacity) IsSatisfied(mo *model.Model) bool {
	return len(c.MisplacedVMs(mo)) == 0
}

func (c *SingleResourceCapacity) MisplacedVMs(mo *model.Model) []model.VM {
	return overloaded(mo, view(mo, c.resource), c.nodes, func(model.Node) int { return c.amount })
}

// ResourceCapacity bounds the resource used by a set of nodes as a whole.
type ResourceCapacity struct {
	base
	resource string
	amount   int
}

func NewResourceCapacity(nodes []model.Node, resource string, amount int) *ResourceCapacity {
	return &ResourceCapacity{base: base{id: "resourceCapacity", nodes: nodes}, resource: resource, amount: amount}
}

func (c *ResourceCapacity) String() string {
	return c.describe(fmt.Sprintf("rc=%s", c.resource), fmt.Sprintf("amount=%d", c.amount))
}

func (c *ResourceCapacity) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	rm, err := resource(p, c, c.resource)
	if err != nil {
		return err
	}
	rm.PostSetCapacity(p, nodeIndexes(p, c.nodes), c.amount)
	return nil
}

func (c *ResourceCapacity) IsSatisfied(mo *model.Model) bool {
	return len(c.MisplacedVMs(mo)) == 0
}

func (c *ResourceCapacity) MisplacedVMs(mo *model.Model) []model.VM {
	r := view(mo, c.resource)
	m := mo.Mapping()
	var vms []model.VM
	for _, n := range c.nodes {
		vms = append(vms, m.RunningVMs(n)...)
	}
	if r.SumConsumption(vms) > c.amount {
		return vms
	}
	return nil
}

// SingleRunningCapacity bounds the number of VMs running on every node of a set.
type SingleRunningCapacity struct {
	base
	amount int
}

func NewSingleRunningCapacity(nodes []model.Node, amount int) *SingleRunningCapacity {
	return &SingleRunningCapacity{base: base{id: "singleRunningCapacity", nodes: nodes}, amount: amount}
}

func (c *SingleRunningCapacity) String() string {
	return c.describe(fmt.Sprintf("amount=%d", c.amount))
}

func (c *SingleRunningCapacity) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	for _, n := range nodeIndexes(p, c.nodes) {
		if err := p.Store().UpdateUB(p.NbRunningVMs(n), c.amount); err != nil {
			return err
		}
	}
	return nil
}

func (c *SingleRunningCapacity) IsSatisfied(mo *model.Model) bool {
	return len(c.MisplacedVMs(mo)) == 0
}

func (c *SingleRunningCapacity) MisplacedVMs(mo *model.Model) []model.VM {
	m := mo.Mapping()
	var res []model.VM
	for _, n := range c.nodes {
		if vms := m.RunningVMs(n); len(vms) > c.amount {
			res = append(res, vms...)
		}
	}
	return res
}

// RunningCapacity bounds the number of VMs running on a set of nodes as a whole.
type RunningCapacity struct {
	base
	amount int
}

func NewRunningCapacity(nodes []model.Node, amount int) *RunningCapacity {
	return &RunningCapacity{base: base{id: "runningCapacity", nodes: nodes}, amount: amount}
}

func (c *RunningCapacity) String() string {
	return c.describe(fmt.Sprintf("amount=%d", c.amount))
}

func (c *RunningCapacity) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	if c.amount < 0 {
		return csp.ErrContradiction
	}
	idx := nodeIndexes(p, c.nodes)
	vars := make([]csp.Var, len(idx))
	for i, n := range idx {
		vars[i] = p.NbRunningVMs(n)
	}
	total := p.Store().IntVar(fmt.Sprintf("runningCapacity(%s)", list(c.nodes)), 0, c.amount)
	p.Post(csp.Sum(vars, total))
	return nil
}

func (c *RunningCapacity) IsSatisfied(mo *model.Model) bool {
	return len(c.MisplacedVMs(mo)) == 0
}

func (c *RunningCapacity) MisplacedVMs(mo *model.Model) []model.VM {
	m := mo.Mapping()
	var vms []model.VM
	for _, n := range c.nodes {
		vms = append(vms, m.RunningVMs(n)...)
	}
	if len(vms) > c.amount {
		return vms
	}
	return nil
}

// MaxOnline bounds the number of online nodes in a set at the end of the plan.
type MaxOnline struct {
	base
	amount int
}

func NewMaxOnline(nodes []model.Node, amount int) *MaxOnline {
	return &MaxOnline{base: base{id: "maxOnline", nodes: nodes}, amount: amount}
}

func (c *MaxOnline) String() string {
	return c.describe(fmt.Sprintf("amount=%d", c.amount))
}

func (c *MaxOnline) Inject(p *scheduler.Problem) error {
	if err := scheduler.RequireDiscrete(c); err != nil {
		return err
	}
	if c.amount < 0 {
		return csp.ErrContradiction
	}
	var states []csp.Var
	for _, n := range c.nodes {
		states = append(states, p.NodeTransition(n).State())
	}
	total := p.Store().IntVar(fmt.Sprintf("maxOnline(%s)", list(c.nodes)), 0, c.amount)
	p.Post(csp.Sum(states, total))
	return nil
}

func (c *MaxOnline) IsSatisfied(mo *model.Model) bool {
	online := 0
	for _, n := range c.nodes {
		if mo.Mapping().IsOnline(n) {
			online++
		}
	}
	return online <= c.amount
}

func (c *MaxOnline) MisplacedVMs(*model.Model) []model.VM { return nil }
