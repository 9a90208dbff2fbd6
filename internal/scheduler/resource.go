package scheduler

import (
	"fmt"
	"math"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
)

// ResourceMapping ties a shareable resource view to the problem: one usage
// variable per VM running at the end of the plan, and the capacity of each node.
// Capacities stay adjustable until the search starts.
type ResourceMapping struct {
	view   *model.ShareableResource
	vms    []model.VM
	nodes  []model.Node
	usages []csp.Var
	ratios []float64
	caps   []int
}

const noVar csp.Var = -1

func newResourceMapping(p *Problem, view *model.ShareableResource) *ResourceMapping {
	r := &ResourceMapping{
		view:   view,
		vms:    p.vms,
		nodes:  p.nodes,
		usages: make([]csp.Var, len(p.vms)),
		ratios: make([]float64, len(p.nodes)),
		caps:   make([]int, len(p.nodes)),
	}
	maxCapa := 0
	for i, n := range p.nodes {
		maxCapa = max(maxCapa, view.Capacity(n))
		r.caps[i] = -1
	}
	for i, vm := range p.vms {
		r.usages[i] = noVar
		if p.vmTrans[i].DSlice() == nil {
			continue
		}
		c := view.Consumption(vm)
		r.usages[i] = p.store.IntVar(fmt.Sprintf("%s.usage(%s)", view.ID(), vm), c, max(c, maxCapa))
	}
	return r
}

// ID returns the resource identifier.
func (r *ResourceMapping) ID() string { return r.view.ID() }

// View returns the underlying resource view.
func (r *ResourceMapping) View() *model.ShareableResource { return r.view }

// Usage returns the amount of resource the VM requires at the end of the plan,
// or false when the VM will not be running.
func (r *ResourceMapping) Usage(vmIdx int) (csp.Var, bool) {
	v := r.usages[vmIdx]
	return v, v != noVar
}

// Consumption returns the current consumption of a VM.
func (r *ResourceMapping) Consumption(vmIdx int) int {
	return r.view.Consumption(r.vms[vmIdx])
}

// PhysicalCapacity returns the capacity declared for a node.
func (r *ResourceMapping) PhysicalCapacity(nodeIdx int) int {
	return r.view.Capacity(r.nodes[nodeIdx])
}

// CapOverbookRatio caps the overbooking ratio of a node and returns the retained
// value. The first call sets the ratio, the next ones may only lower it.
func (r *ResourceMapping) CapOverbookRatio(nodeIdx int, ratio float64) float64 {
	if r.ratios[nodeIdx] == 0 || ratio < r.ratios[nodeIdx] {
		r.ratios[nodeIdx] = ratio
	}
	return r.ratios[nodeIdx]
}

// OverbookRatio returns the overbooking ratio of a node, 1 when none was set.
func (r *ResourceMapping) OverbookRatio(nodeIdx int) float64 {
	if r.ratios[nodeIdx] == 0 {
		return 1
	}
	return r.ratios[nodeIdx]
}

// CapCapacity limits the capacity of a node to v.
func (r *ResourceMapping) CapCapacity(nodeIdx, v int) {
	if r.caps[nodeIdx] < 0 || v < r.caps[nodeIdx] {
		r.caps[nodeIdx] = v
	}
}

// Capacity returns the capacity of a node, overbooking and caps included.
func (r *ResourceMapping) Capacity(nodeIdx int) int {
	c := int(math.Floor(float64(r.PhysicalCapacity(nodeIdx)) * r.OverbookRatio(nodeIdx)))
	if r.caps[nodeIdx] >= 0 {
		c = min(c, r.caps[nodeIdx])
	}
	return c
}

// PostSetCapacity bounds the resource used at the end of the plan by the VMs
// running on a set of nodes.
func (r *ResourceMapping) PostSetCapacity(p *Problem, nodes []int, amount int) {
	in := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		in[n] = true
	}
	sc := &setCapacity{in: in, amount: amount}
	for i, t := range p.vmTrans {
		if d := t.DSlice(); d != nil {
			sc.hosts = append(sc.hosts, d.Host)
			sc.usages = append(sc.usages, r.usages[i])
		}
	}
	p.store.Post(sc)
}

// setCapacity enforces sum(usage of VMs hosted in the set) <= amount.
type setCapacity struct {
	in     map[int]bool
	amount int
	hosts  []csp.Var
	usages []csp.Var
}

func (c *setCapacity) Vars() []csp.Var {
	return append(append([]csp.Var(nil), c.hosts...), c.usages...)
}

func (c *setCapacity) Propagate(s *csp.Store) error {
	load := 0
	for i, h := range c.hosts {
		if s.IsFixed(h) && c.in[s.Value(h)] {
			load += s.Min(c.usages[i])
		}
	}
	if load > c.amount {
		return csp.ErrContradiction
	}
	for i, h := range c.hosts {
		if s.IsFixed(h) {
			continue
		}
		if load+s.Min(c.usages[i]) > c.amount {
			if err := s.Restrict(h, func(n int) bool { return !c.in[n] }); err != nil {
				return err
			}
		}
	}
	return nil
}
