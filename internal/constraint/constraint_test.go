package constraint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

// newCluster creates online nodes and places running VMs on them.
func newCluster(t *testing.T, nodes []model.Node, placement map[model.VM]model.Node) *model.Model {
	t.Helper()
	mo := model.New()
	m := mo.Mapping()
	for _, n := range nodes {
		m.AddOnlineNode(n)
	}
	for _, vm := range sortedKeys(placement) {
		require.NoError(t, m.AddRunningVM(vm, placement[vm]))
	}
	return mo
}

func sortedKeys(placement map[model.VM]model.Node) []model.VM {
	set := make(map[model.VM]bool, len(placement))
	for vm := range placement {
		set[vm] = true
	}
	return sortedVMs(set)
}

func solve(t *testing.T, params scheduler.Parameters, inst scheduler.Instance) *scheduler.Result {
	t.Helper()
	res, err := scheduler.NewScheduler(params, zap.NewNop()).Solve(context.Background(), inst)
	require.NoError(t, err)
	return res
}

func TestSpread_SeparatesCollocatedVMs(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n1"})

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model:       mo,
		Constraints: []scheduler.Constraint{NewSpread("vm1", "vm2")},
	})
	require.True(t, res.Solved())
	assert.Equal(t, 1, res.Plan.Size())

	dst, err := res.Plan.Result()
	require.NoError(t, err)
	h1, _ := dst.Mapping().Location("vm1")
	h2, _ := dst.Mapping().Location("vm2")
	assert.NotEqual(t, h1, h2)
	assert.True(t, NewSpread("vm1", "vm2").IsSatisfied(dst))
}

func TestSpread_ContinuousForbidsSwaps(t *testing.T) {
	build := func() *model.Model {
		return newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n2"})
	}
	swap := func(continuous bool) []scheduler.Constraint {
		s := NewSpread("vm1", "vm2")
		s.SetContinuous(continuous)
		return []scheduler.Constraint{
			s,
			NewFence([]model.VM{"vm1"}, []model.Node{"n2"}),
			NewFence([]model.VM{"vm2"}, []model.Node{"n1"}),
		}
	}

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{Model: build(), Constraints: swap(false)})
	require.True(t, res.Solved())
	assert.ElementsMatch(t, []plan.Action{
		plan.MigrateVM("vm1", "n1", "n2", 0, 1),
		plan.MigrateVM("vm2", "n2", "n1", 0, 1),
	}, res.Plan.Actions())

	res = solve(t, scheduler.DefaultParameters(), scheduler.Instance{Model: build(), Constraints: swap(true)})
	assert.False(t, res.Solved())
	assert.True(t, res.Stats.ProvenInfeasible())
}

func TestFenceAndBan_Contradiction(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1"})

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model: mo,
		Constraints: []scheduler.Constraint{
			NewFence([]model.VM{"vm1"}, []model.Node{"n1"}),
			NewBan([]model.VM{"vm1"}, []model.Node{"n1"}),
		},
	})
	assert.Nil(t, res.Plan)
	assert.True(t, res.Stats.ProvenInfeasible())
}

func TestBan_RepairModeOnlyMovesMisplacedVMs(t *testing.T) {
	placement := map[model.VM]model.Node{
		"vm0": "n1", "vm1": "n1",
		"vm2": "n2", "vm3": "n2", "vm4": "n2",
		"vm5": "n3", "vm6": "n3", "vm7": "n3",
		"vm8": "n4", "vm9": "n4",
	}
	mo := newCluster(t, []model.Node{"n1", "n2", "n3", "n4"}, placement)
	params := scheduler.DefaultParameters()
	params.Repair = true

	res := solve(t, params, scheduler.Instance{
		Model:       mo,
		Constraints: []scheduler.Constraint{NewBan([]model.VM{"vm0", "vm1"}, []model.Node{"n1"})},
	})
	require.True(t, res.Solved())
	assert.Equal(t, 2, res.Stats.NbManagedVMs)
	require.Equal(t, 2, res.Plan.Size())
	for _, a := range res.Plan.Actions() {
		assert.Equal(t, plan.ActionMigrateVM, a.Kind)
		assert.Equal(t, model.Node("n1"), a.Source)
		assert.NotEqual(t, model.Node("n1"), a.Destination)
	}
}

func TestOffline_EvacuatesThenShutsDown(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n1"})

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model:       mo,
		Constraints: []scheduler.Constraint{NewOffline("n1")},
	})
	require.True(t, res.Solved())
	assert.Equal(t, 3, res.Plan.Size())

	actions := res.Plan.Actions()
	last := actions[len(actions)-1]
	assert.Equal(t, plan.ActionShutdownNode, last.Kind)
	for _, a := range actions[:len(actions)-1] {
		assert.LessOrEqual(t, a.End, last.Start)
	}

	dst, err := res.Plan.Result()
	require.NoError(t, err)
	assert.False(t, dst.Mapping().IsOnline("n1"))
	assert.ElementsMatch(t, []model.VM{"vm1", "vm2"}, dst.Mapping().RunningVMs("n2"))
}

func TestObjectives(t *testing.T) {
	params := scheduler.DefaultParameters()
	params.Optimize = true

	t.Run("migrations", func(t *testing.T) {
		mo := newCluster(t, []model.Node{"n1", "n2", "n3"},
			map[model.VM]model.Node{"vm1": "n1", "vm2": "n1", "vm3": "n1"})
		res := solve(t, params, scheduler.Instance{
			Model:       mo,
			Constraints: []scheduler.Constraint{NewSpread("vm1", "vm2", "vm3")},
			Objective:   MinMigrations{},
		})
		require.True(t, res.Solved())
		assert.True(t, res.Stats.Completed)
		best, ok := res.Stats.Best()
		require.True(t, ok)
		assert.Equal(t, 2, best)
		assert.Equal(t, 2, res.Plan.Size())
	})

	t.Run("makespan", func(t *testing.T) {
		mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n1"})
		res := solve(t, params, scheduler.Instance{
			Model:       mo,
			Constraints: []scheduler.Constraint{NewSpread("vm1", "vm2")},
			Objective:   MinMakespan{},
		})
		require.True(t, res.Solved())
		assert.True(t, res.Stats.Completed)
		best, ok := res.Stats.Best()
		require.True(t, ok)
		assert.Equal(t, 1, best)
		assert.Equal(t, 1, res.Plan.Duration())
	})

	t.Run("active nodes", func(t *testing.T) {
		mo := newCluster(t, []model.Node{"n1", "n2", "n3"},
			map[model.VM]model.Node{"vm1": "n1", "vm2": "n2", "vm3": "n3"})
		res := solve(t, params, scheduler.Instance{Model: mo, Objective: MinActiveNodes{}})
		require.True(t, res.Solved())
		best, ok := res.Stats.Best()
		require.True(t, ok)
		assert.Equal(t, 1, best)
	})
}

func TestInjectionErrors(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n2"})

	splitAmong := NewSplitAmong([][]model.VM{{"vm1"}, {"vm2"}}, [][]model.Node{{"n1"}, {"n2"}})
	splitAmong.SetContinuous(true)
	gather := NewGather("vm1", "vm2")
	gather.SetContinuous(true)

	cases := []struct {
		name string
		c    scheduler.Constraint
		want error
	}{
		{"continuous unsupported", splitAmong, scheduler.ErrContinuousUnsupported},
		{"unknown resource", NewPreserve([]model.VM{"vm1"}, "mem", 2), scheduler.ErrUnknownResource},
		{"bad ratio", NewOverbook([]model.Node{"n1"}, "cpu", 0.5), scheduler.ErrInvalidArgument},
		{"unknown node", NewBan([]model.VM{"vm1"}, []model.Node{"n9"}), scheduler.ErrUnknownNode},
		{"violated already", gather, scheduler.ErrNotSatisfiedInitially},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scheduler.NewScheduler(scheduler.DefaultParameters(), nil).
				Solve(context.Background(), scheduler.Instance{Model: mo, Constraints: []scheduler.Constraint{tc.c}})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMisplacedVMs(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2", "n3"}, map[model.VM]model.Node{
		"vm1": "n1", "vm2": "n1", "vm3": "n2", "vm4": "n3",
	})
	m := mo.Mapping()
	m.AddReadyVM("vm5")

	cases := []struct {
		name string
		c    scheduler.Constraint
		want []model.VM
	}{
		{"spread", NewSpread("vm1", "vm2", "vm3"), []model.VM{"vm1", "vm2"}},
		{"spread satisfied", NewSpread("vm1", "vm3", "vm4"), nil},
		{"gather", NewGather("vm1", "vm3"), []model.VM{"vm1", "vm3"}},
		{"fence", NewFence([]model.VM{"vm1", "vm3", "vm5"}, []model.Node{"n2"}), []model.VM{"vm1"}},
		{"ban", NewBan([]model.VM{"vm1", "vm3"}, []model.Node{"n2", "n3"}), []model.VM{"vm3"}},
		{"lonely", NewLonely("vm1", "vm4"), []model.VM{"vm1"}},
		{"split", NewSplit([]model.VM{"vm1"}, []model.VM{"vm2", "vm3"}), []model.VM{"vm1", "vm2"}},
		{"among", NewAmong([]model.VM{"vm1", "vm3"}, [][]model.Node{{"n1"}, {"n2", "n3"}}), []model.VM{"vm1", "vm3"}},
		{"running", NewRunning("vm1", "vm5"), []model.VM{"vm5"}},
		{"killed", NewKilled("vm4", "vm6"), []model.VM{"vm4"}},
		{"offline", NewOffline("n1"), []model.VM{"vm1", "vm2"}},
		{"root", NewRoot("vm1"), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.c.MisplacedVMs(mo)
			assert.ElementsMatch(t, tc.want, got)
			assert.Equal(t, len(tc.want) == 0, tc.c.IsSatisfied(mo))
		})
	}
}

func TestCapacityMisplacedVMs(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n1", "vm3": "n2"})
	cpu := model.NewShareableResource("cpu", 4, 2)
	cpu.SetConsumption("vm3", 1)
	mo.AttachView(cpu)

	assert.ElementsMatch(t, []model.VM{"vm1", "vm2"},
		NewSingleResourceCapacity([]model.Node{"n1", "n2"}, "cpu", 3).MisplacedVMs(mo))
	assert.Empty(t, NewOverbook([]model.Node{"n1"}, "cpu", 1).MisplacedVMs(mo))
	assert.ElementsMatch(t, []model.VM{"vm1", "vm2"},
		NewSingleRunningCapacity([]model.Node{"n1", "n2"}, 1).MisplacedVMs(mo))
	assert.ElementsMatch(t, []model.VM{"vm3"}, NewPreserve([]model.VM{"vm1", "vm3"}, "cpu", 2).MisplacedVMs(mo))
}

func TestCapacity_LimitsPlacement(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n1", "vm2": "n1"})
	mo.AttachView(model.NewShareableResource("cpu", 8, 2))

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model:       mo,
		Constraints: []scheduler.Constraint{NewSingleResourceCapacity([]model.Node{"n1"}, "cpu", 2)},
	})
	require.True(t, res.Solved())
	assert.Equal(t, 1, res.Plan.Size())
	assert.NoError(t, scheduler.CheckResources(res.Plan))

	res = solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model:       mo,
		Constraints: []scheduler.Constraint{NewSingleRunningCapacity([]model.Node{"n1", "n2"}, 0)},
	})
	assert.False(t, res.Solved())
}

func TestString(t *testing.T) {
	assert.Equal(t, "fence(vms=[vm1], nodes=[n1, n2], discrete)",
		NewFence([]model.VM{"vm1"}, []model.Node{"n1", "n2"}).String())
	assert.Equal(t, "quarantine(nodes=[n1], continuous)", NewQuarantine("n1").String())
	assert.Equal(t, "split(groups=[[vm1], [vm2, vm3]], discrete)",
		NewSplit([]model.VM{"vm1"}, []model.VM{"vm2", "vm3"}).String())
}

func TestSequentialVMTransitions(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1"}, map[model.VM]model.Node{"vm1": "n1", "vm3": "n1"})
	mo.Mapping().AddReadyVM("vm2")

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model: mo,
		Constraints: []scheduler.Constraint{
			NewReady("vm1"),
			NewRunning("vm2"),
			NewSequentialVMTransitions("vm3", "vm1", "vm2"),
		},
	})
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{
		plan.ShutdownVM("vm1", "n1", 0, 1),
		plan.BootVM("vm2", "n1", 1, 2),
	}, res.Plan.Actions())
}

func TestQuarantine_KeepsNewcomersAway(t *testing.T) {
	mo := newCluster(t, []model.Node{"n1", "n2"}, map[model.VM]model.Node{"vm1": "n2"})
	mo.Mapping().AddReadyVM("vm2")

	res := solve(t, scheduler.DefaultParameters(), scheduler.Instance{
		Model:       mo,
		Constraints: []scheduler.Constraint{NewRunning("vm2"), NewQuarantine("n1")},
	})
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{plan.BootVM("vm2", "n2", 0, 1)}, res.Plan.Actions())
}
