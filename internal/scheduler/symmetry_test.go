package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

func TestStayingSymmetry(t *testing.T) {
	tests := []struct {
		name       string
		stay       int
		usages     []int
		cDur, dDur int
	}{
		{name: "unchanged usage releases at once", stay: 1, usages: []int{3, 2}, cDur: 0, dDur: 10},
		{name: "larger usage acquires at the end", stay: 1, usages: []int{4, 5}, cDur: 10, dDur: 0},
		{name: "mixed usages", stay: 1, usages: []int{4, 1}, cDur: 10, dDur: 10},
		{name: "moving VM", stay: 0, usages: []int{3, 2}, cDur: 10, dDur: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := csp.NewStore()
			sym := &stayingSymmetry{
				stay: s.Const(tt.stay),
				cons: []int{3, 2},
				cDur: s.IntVar("cDur", 0, 10),
				dDur: s.IntVar("dDur", 0, 10),
			}
			for i, u := range tt.usages {
				sym.usages = append(sym.usages, s.IntVar(fmt.Sprintf("u%d", i), u, u))
			}
			s.Post(sym)
			require.NoError(t, s.Propagate())
			assert.Equal(t, tt.cDur, s.Max(sym.cDur))
			assert.Equal(t, tt.dDur, s.Max(sym.dDur))
		})
	}
}

// grow raises the usage of a VM at the end of the plan.
type grow struct {
	vm     model.VM
	amount int
}

func (c *grow) String() string { return fmt.Sprintf("grow(%s, %d)", c.vm, c.amount) }
func (c *grow) InvolvedVMs() []model.VM { return []model.VM{c.vm} }
func (c *grow) InvolvedNodes() []model.Node { return nil }
func (c *grow) IsContinuous() bool { return false }
func (c *grow) IsSatisfied(*model.Model) bool { return true }
func (c *grow) MisplacedVMs(*model.Model) []model.VM { return nil }

func (c *grow) Inject(p *Problem) error {
	rm, _ := p.Resource("cpu")
	u, ok := rm.Usage(p.VMIndex(c.vm))
	if !ok {
		return nil
	}
	return p.Store().UpdateLB(u, c.amount)
}

func TestSolve_StayingVMWithLargerUsage(t *testing.T) {
	res := solve(t, NewProblemBuilder(twoNodes(t)).
		NextStates(nil, []model.VM{"vm1", "vm2"}, nil, nil).
		Constraints(&grow{vm: "vm1", amount: 4}))
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{plan.BootVM("vm2", "n2", 0, 1)}, res.Plan.Actions())
	assert.NoError(t, CheckResources(res.Plan))
}
