package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

// pin is a minimal constraint placing a VM on a node.
type pin struct {
	vm         model.VM
	node       model.Node
	continuous bool
}

func (c *pin) String() string { return fmt.Sprintf("pin(%s, %s)", c.vm, c.node) }
func (c *pin) InvolvedVMs() []model.VM { return []model.VM{c.vm} }
func (c *pin) InvolvedNodes() []model.Node { return []model.Node{c.node} }
func (c *pin) IsContinuous() bool { return c.continuous }
func (c *pin) IsSatisfied(mo *model.Model) bool {
	host, ok := mo.Mapping().Location(c.vm)
	return ok && host == c.node
}

func (c *pin) Inject(p *Problem) error {
	t := p.VMTransition(c.vm)
	if t.DSlice() == nil {
		return nil
	}
	return p.Store().Assign(t.DSlice().Host, p.NodeIndex(c.node))
}

func (c *pin) MisplacedVMs(mo *model.Model) []model.VM {
	if c.IsSatisfied(mo) {
		return nil
	}
	return []model.VM{c.vm}
}

// twoNodes returns n1 and n2 online with 4 cpu each, vm1 running on n1 and
// consuming 3, vm2 ready and consuming 2.
func twoNodes(t *testing.T) *model.Model {
	t.Helper()
	mo := model.New()
	m := mo.Mapping()
	m.AddOnlineNode("n1")
	m.AddOnlineNode("n2")
	require.NoError(t, m.AddRunningVM("vm1", "n1"))
	m.AddReadyVM("vm2")
	cpu := model.NewShareableResource("cpu", 4, 1)
	cpu.SetConsumption("vm1", 3).SetConsumption("vm2", 2)
	mo.AttachView(cpu)
	return mo
}

func solve(t *testing.T, b *ProblemBuilder) *Result {
	t.Helper()
	p, err := b.Logger(zap.NewNop()).Build()
	require.NoError(t, err)
	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	return res
}

func TestSelectVMTransition(t *testing.T) {
	cases := []struct {
		cur, next model.VMState
		want      TransitionKind
	}{
		{model.VMStateInit, model.VMStateReady, KindForge},
		{model.VMStateReady, model.VMStateReady, KindStayReady},
		{model.VMStateReady, model.VMStateRunning, KindBoot},
		{model.VMStateRunning, model.VMStateRunning, KindRelocatable},
		{model.VMStateRunning, model.VMStateReady, KindShutdown},
		{model.VMStateRunning, model.VMStateSleeping, KindSuspend},
		{model.VMStateSleeping, model.VMStateSleeping, KindStayAway},
		{model.VMStateSleeping, model.VMStateRunning, KindResume},
		{model.VMStateRunning, model.VMStateKilled, KindKill},
		{model.VMStateSleeping, model.VMStateKilled, KindKill},
		{model.VMStateReady, model.VMStateKilled, KindKill},
		{model.VMStateInit, model.VMStateKilled, KindKill},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s to %s", tc.cur, tc.next), func(t *testing.T) {
			got, err := SelectVMTransition(tc.cur, tc.next)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range [][2]model.VMState{
		{model.VMStateInit, model.VMStateRunning},
		{model.VMStateReady, model.VMStateSleeping},
		{model.VMStateSleeping, model.VMStateReady},
		{model.VMStateInit, model.VMStateSleeping},
	} {
		_, err := SelectVMTransition(bad[0], bad[1])
		assert.ErrorIs(t, err, ErrNoTransition)
	}
}

func TestProblem_OneTransitionPerEntity(t *testing.T) {
	mo := model.New()
	m := mo.Mapping()
	m.AddOnlineNode("n1")
	require.NoError(t, m.AddOfflineNode("n2"))
	for _, vm := range []model.VM{"vm1", "vm2", "vm3"} {
		require.NoError(t, m.AddRunningVM(vm, "n1"))
	}
	require.NoError(t, m.AddSleepingVM("vm4", "n1"))
	require.NoError(t, m.AddSleepingVM("vm5", "n1"))
	m.AddReadyVM("vm6")
	m.AddReadyVM("vm7")
	require.NoError(t, m.AddRunningVM("vm9", "n1"))

	b := NewProblemBuilder(mo).NextStates(
		[]model.VM{"vm2", "vm7", "vm8"},
		[]model.VM{"vm1", "vm5", "vm6"},
		[]model.VM{"vm3", "vm4"},
		[]model.VM{"vm9"},
	)
	p, err := b.Build()
	require.NoError(t, err)

	want := map[model.VM]TransitionKind{
		"vm1": KindRelocatable,
		"vm2": KindShutdown,
		"vm3": KindSuspend,
		"vm4": KindStayAway,
		"vm5": KindResume,
		"vm6": KindBoot,
		"vm7": KindStayReady,
		"vm8": KindForge,
		"vm9": KindKill,
	}
	require.Len(t, p.VMTransitions(), len(want))
	for vm, kind := range want {
		tr := p.VMTransition(vm)
		require.NotNil(t, tr, vm)
		assert.Equal(t, kind, tr.Kind(), vm)
		assert.Equal(t, vm, p.VM(p.VMIndex(vm)))
	}
	assert.Equal(t, 8, p.VMIndex("vm8"))
	assert.Nil(t, p.VMTransition("vm10"))
	assert.Equal(t, NotFound, p.VMIndex("vm10"))
	assert.Equal(t, NotFound, p.NodeIndex("n3"))

	assert.Equal(t, KindShutdownable, p.NodeTransition("n1").Kind())
	assert.Equal(t, KindBootable, p.NodeTransition("n2").Kind())

	assert.Nil(t, p.VMTransition("vm8").CSlice())
	assert.Nil(t, p.VMTransition("vm9").DSlice())
	assert.NotNil(t, p.VMTransition("vm9").CSlice())
	assert.False(t, p.VMTransition("vm4").IsManaged())

	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	require.True(t, res.Solved())
	assert.Equal(t, 6, res.Plan.Size())

	dst, err := res.Plan.Result()
	require.NoError(t, err)
	dm := dst.Mapping()
	assert.Equal(t, model.VMStateReady, dm.VMState("vm2"))
	assert.Equal(t, model.VMStateSleeping, dm.VMState("vm3"))
	assert.Equal(t, model.VMStateRunning, dm.VMState("vm5"))
	assert.Equal(t, model.VMStateRunning, dm.VMState("vm6"))
	assert.Equal(t, model.VMStateReady, dm.VMState("vm8"))
	assert.False(t, dm.ContainsVM("vm9"))
	assert.False(t, dm.IsOnline("n2"))
}

func TestProblem_BuildErrors(t *testing.T) {
	newModel := func() *model.Model {
		mo := model.New()
		m := mo.Mapping()
		m.AddOnlineNode("n1")
		_ = m.AddRunningVM("vm1", "n1")
		m.AddReadyVM("vm2")
		return mo
	}
	cases := []struct {
		name  string
		build func() (*Problem, error)
		want  error
	}{
		{
			name: "overlapping states",
			build: func() (*Problem, error) {
				return NewProblemBuilder(newModel()).
					NextStates([]model.VM{"vm1", "vm2"}, []model.VM{"vm1"}, nil, nil).Build()
			},
			want: ErrOverlappingStates,
		},
		{
			name: "missing state",
			build: func() (*Problem, error) {
				return NewProblemBuilder(newModel()).NextStates(nil, []model.VM{"vm1"}, nil, nil).Build()
			},
			want: ErrMissingState,
		},
		{
			name: "unknown running vm",
			build: func() (*Problem, error) {
				return NewProblemBuilder(newModel()).
					NextStates([]model.VM{"vm2"}, []model.VM{"vm1", "vm3"}, nil, nil).Build()
			},
			want: ErrUnknownVM,
		},
		{
			name: "no transition",
			build: func() (*Problem, error) {
				return NewProblemBuilder(newModel()).
					NextStates(nil, []model.VM{"vm1"}, []model.VM{"vm2"}, nil).Build()
			},
			want: ErrNoTransition,
		},
		{
			name: "invalid duration",
			build: func() (*Problem, error) {
				mo := newModel()
				mo.Attributes().PutVM("vm2", "boot", "0")
				return NewProblemBuilder(mo).NextStates(nil, []model.VM{"vm1", "vm2"}, nil, nil).Build()
			},
			want: ErrInvalidDuration,
		},
		{
			name: "unknown node in constraint",
			build: func() (*Problem, error) {
				return NewProblemBuilder(newModel()).Constraints(&pin{vm: "vm1", node: "n9"}).Build()
			},
			want: ErrUnknownNode,
		},
		{
			name: "continuous constraint already violated",
			build: func() (*Problem, error) {
				mo := newModel()
				mo.Mapping().AddOnlineNode("n2")
				return NewProblemBuilder(mo).Constraints(&pin{vm: "vm1", node: "n2", continuous: true}).Build()
			},
			want: ErrNotSatisfiedInitially,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.build()
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tc.want)
			var be *BuildError
			assert.True(t, errors.As(err, &be))
		})
	}
}

func TestSolve_CapacityExceeded(t *testing.T) {
	mo := model.New()
	m := mo.Mapping()
	m.AddOnlineNode("n1")
	require.NoError(t, m.AddRunningVM("vm1", "n1"))
	require.NoError(t, m.AddRunningVM("vm2", "n1"))
	mo.AttachView(model.NewShareableResource("cpu", 4, 3))

	res := solve(t, NewProblemBuilder(mo))
	assert.False(t, res.Solved())
	assert.True(t, res.Stats.ProvenInfeasible())
	assert.Equal(t, 0, res.Stats.NbSolutions())
}

func TestSolve_BootsWhereThereIsRoom(t *testing.T) {
	mo := twoNodes(t)
	mo.Attributes().PutVM("vm2", "boot", "5")

	res := solve(t, NewProblemBuilder(mo).NextStates(nil, []model.VM{"vm1", "vm2"}, nil, nil))
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{plan.BootVM("vm2", "n2", 0, 5)}, res.Plan.Actions())
	assert.NoError(t, CheckResources(res.Plan))
}

func TestSolve_MigratesToMakeRoom(t *testing.T) {
	mo := twoNodes(t)

	res := solve(t, NewProblemBuilder(mo).
		NextStates(nil, []model.VM{"vm1", "vm2"}, nil, nil).
		Constraints(&pin{vm: "vm2", node: "n1"}))
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{
		plan.MigrateVM("vm1", "n1", "n2", 0, 1),
		plan.BootVM("vm2", "n1", 1, 2),
	}, res.Plan.Actions())
	assert.NoError(t, CheckResources(res.Plan))
}

func TestSolve_AlreadySatisfiedGivesEmptyPlan(t *testing.T) {
	mo := twoNodes(t)
	require.NoError(t, mo.Mapping().AddRunningVM("vm3", "n2"))

	res := solve(t, NewProblemBuilder(mo))
	require.True(t, res.Solved())
	assert.Equal(t, 0, res.Plan.Size())
}

func TestSolve_ExclusiveVMGetsItsNode(t *testing.T) {
	mo := model.New()
	m := mo.Mapping()
	m.AddOnlineNode("n1")
	m.AddOnlineNode("n2")
	require.NoError(t, m.AddRunningVM("vm1", "n1"))
	require.NoError(t, m.AddRunningVM("vm2", "n1"))
	mo.Attributes().PutVM("vm1", ExclusiveAttribute, "true")

	res := solve(t, NewProblemBuilder(mo))
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{plan.MigrateVM("vm2", "n1", "n2", 0, 1)}, res.Plan.Actions())
}

func TestSolve_NodeCanBeBootedForVMs(t *testing.T) {
	mo := model.New()
	m := mo.Mapping()
	m.AddOnlineNode("n1")
	require.NoError(t, m.AddOfflineNode("n2"))
	require.NoError(t, m.AddRunningVM("vm1", "n1"))
	m.AddReadyVM("vm2")
	cpu := model.NewShareableResource("cpu", 4, 3)
	mo.AttachView(cpu)

	res := solve(t, NewProblemBuilder(mo).NextStates(nil, []model.VM{"vm1", "vm2"}, nil, nil))
	require.True(t, res.Solved())
	assert.Equal(t, []plan.Action{
		plan.BootNode("n2", 0, 1),
		plan.BootVM("vm2", "n2", 1, 2),
	}, res.Plan.Actions())
	assert.NoError(t, CheckResources(res.Plan))
}

func TestScheduler_RepairModeManagesMisplacedVMsOnly(t *testing.T) {
	mo := twoNodes(t)
	require.NoError(t, mo.Mapping().AddRunningVM("vm3", "n1"))
	cpu, _ := mo.View("cpu")
	cpu.SetConsumption("vm3", 1)

	params := DefaultParameters()
	params.Repair = true
	s := NewScheduler(params, zap.NewNop())
	inst := Instance{Model: mo, Constraints: []Constraint{&pin{vm: "vm3", node: "n2"}}}

	p, err := s.Build(inst)
	require.NoError(t, err)
	assert.False(t, p.VMTransition("vm1").IsManaged())
	assert.True(t, p.VMTransition("vm3").IsManaged())

	res, err := s.Solve(context.Background(), inst)
	require.NoError(t, err)
	require.True(t, res.Solved())
	assert.Equal(t, 1, res.Stats.NbManagedVMs)
	assert.Equal(t, []plan.Action{plan.MigrateVM("vm3", "n1", "n2", 0, 1)}, res.Plan.Actions())
}

func TestProblem_SolutionListenerAndCancellation(t *testing.T) {
	var seen []Solution
	params := DefaultParameters()
	params.OnSolution = func(s Solution) { seen = append(seen, s) }

	p, err := NewProblemBuilder(twoNodes(t)).Params(params).Build()
	require.NoError(t, err)
	res, err := p.Solve(context.Background())
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Same(t, res.Plan, seen[0].Plan)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Solve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// countdown minimizes a free cost variable, tried from its upper bound so
// every improvement is one unit.
type countdown struct{}

func (countdown) String() string { return "countdown()" }

func (countdown) Inject(p *Problem) error {
	cost := p.Store().IntVar("cost", 0, 5)
	p.SetObjective(true, cost)
	p.AddHeuristic(func(s *csp.Store) (csp.Decision, bool) {
		if s.IsFixed(cost) {
			return csp.Decision{}, false
		}
		return csp.Decision{Var: cost, Value: s.Max(cost), Op: csp.OpAssign}, true
	})
	return nil
}

func TestSolve_Optimization(t *testing.T) {
	tests := []struct {
		name      string
		tune      func(p *Parameters)
		solutions int
		best      int
		optimal   bool
	}{
		{name: "exhaustive", solutions: 6, best: 0, optimal: true},
		{name: "alterer", tune: func(p *Parameters) { p.Alterer = func(best int) int { return best - 3 } }, solutions: 2, best: 2},
		{name: "solution limit", tune: func(p *Parameters) { p.SolutionLimit = 2 }, solutions: 2, best: 4},
		{name: "node limit", tune: func(p *Parameters) { p.NodeLimit = 1 }, solutions: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultParameters()
			params.Optimize = true
			if tt.tune != nil {
				tt.tune(&params)
			}
			res := solve(t, NewProblemBuilder(twoNodes(t)).Objective(countdown{}).Params(params))

			assert.Equal(t, tt.solutions, res.Stats.NbSolutions())
			assert.Equal(t, tt.optimal, res.Stats.Completed)
			assert.Equal(t, tt.optimal, res.Stats.ProvenOptimal())
			assert.False(t, res.Stats.ProvenInfeasible())
			if tt.solutions == 0 {
				assert.False(t, res.Solved())
				return
			}
			require.True(t, res.Solved())
			best, ok := res.Stats.Best()
			require.True(t, ok)
			assert.Equal(t, tt.best, best)
		})
	}
}

func TestCheckResources(t *testing.T) {
	mo := twoNodes(t)

	bad := plan.New(mo)
	require.NoError(t, bad.Add(plan.BootVM("vm2", "n1", 0, 1)))
	assert.ErrorIs(t, CheckResources(bad), ErrCapacityExceeded)

	good := plan.New(mo)
	require.NoError(t, good.Add(plan.MigrateVM("vm1", "n1", "n2", 0, 1)))
	require.NoError(t, good.Add(plan.BootVM("vm2", "n1", 1, 2)))
	assert.NoError(t, CheckResources(good))
}
