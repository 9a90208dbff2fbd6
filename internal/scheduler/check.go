package scheduler

import (
	"errors"
	"fmt"

	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

// ErrCapacityExceeded is returned by CheckResources when a node is overloaded.
var ErrCapacityExceeded = errors.New("capacity exceeded")

type occupation struct {
	vm       model.VM
	node     model.Node
	from, to int
}

// CheckResources replays a plan over time and verifies that, at every instant,
// the VMs running on a node do not consume more than its capacity in any
// resource view of the origin model. A leaving VM frees its resources at the
// end of its action, an arriving VM uses them from the start of its action.
func CheckResources(rp *plan.ReconfigurationPlan) error {
	horizon := rp.Duration() + 1
	m := rp.Origin().Mapping()
	leave := make(map[model.VM]int)
	var occ []occupation
	for _, a := range rp.Actions() {
		switch a.Kind {
		case plan.ActionMigrateVM:
			leave[a.VM] = a.End
			occ = append(occ, occupation{vm: a.VM, node: a.Destination, from: a.Start, to: horizon})
		case plan.ActionBootVM, plan.ActionResumeVM:
			occ = append(occ, occupation{vm: a.VM, node: a.Destination, from: a.Start, to: horizon})
		case plan.ActionShutdownVM, plan.ActionSuspendVM, plan.ActionKillVM:
			leave[a.VM] = a.End
		}
	}
	for _, vm := range m.VMsIn(model.VMStateRunning) {
		n, _ := m.Location(vm)
		to, ok := leave[vm]
		if !ok {
			to = horizon
		}
		occ = append(occ, occupation{vm: vm, node: n, from: 0, to: to})
	}

	for _, r := range rp.Origin().Views() {
		for t := 0; t < horizon; t++ {
			load := make(map[model.Node]int)
			for _, o := range occ {
				if o.from <= t && t < o.to {
					load[o.node] += r.Consumption(o.vm)
				}
			}
			for _, n := range m.Nodes() {
				if load[n] > r.Capacity(n) {
					return fmt.Errorf("%s on %s at %d: %d > %d: %w", r.ID(), n, t, load[n], r.Capacity(n), ErrCapacityExceeded)
				}
			}
		}
	}
	return nil
}
