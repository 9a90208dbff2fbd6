package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/planner/internal/model"
)

func newOrigin(t *testing.T) *model.Model {
	t.Helper()
	mo := model.New()
	m := mo.Mapping()
	m.AddOnlineNode("n1")
	m.AddOnlineNode("n2")
	require.NoError(t, m.AddOfflineNode("n3"))
	require.NoError(t, m.AddRunningVM("vm1", "n1"))
	require.NoError(t, m.AddSleepingVM("vm2", "n2"))
	m.AddReadyVM("vm3")
	return mo
}

func TestPlan_ResultAppliesActionsInOrder(t *testing.T) {
	mo := newOrigin(t)
	p := New(mo)
	require.NoError(t, p.Add(MigrateVM("vm1", "n1", "n3", 3, 5)))
	require.NoError(t, p.Add(BootNode("n3", 0, 3)))
	require.NoError(t, p.Add(ShutdownNode("n1", 5, 6)))
	require.NoError(t, p.Add(ResumeVM("vm2", "n2", "n2", 0, 2)))
	require.NoError(t, p.Add(BootVM("vm3", "n2", 2, 4)))
	require.NoError(t, p.Add(ForgeVM("vm4", 0, 1)))

	assert.Equal(t, 6, p.Duration())
	assert.Equal(t, ActionBootNode, p.Actions()[0].Kind)

	res, err := p.Result()
	require.NoError(t, err)
	m := res.Mapping()
	host, _ := m.Location("vm1")
	assert.Equal(t, model.Node("n3"), host)
	assert.Equal(t, model.VMStateRunning, m.VMState("vm2"))
	assert.Equal(t, model.VMStateRunning, m.VMState("vm3"))
	assert.Equal(t, model.VMStateReady, m.VMState("vm4"))
	assert.False(t, m.IsOnline("n1"))

	// The origin is untouched.
	assert.True(t, mo.Mapping().IsOnline("n1"))
}

func TestPlan_RejectsIllegalActions(t *testing.T) {
	cases := []struct {
		name   string
		action Action
	}{
		{"boot a running vm", BootVM("vm1", "n2", 0, 1)},
		{"migrate from the wrong host", MigrateVM("vm1", "n2", "n1", 0, 1)},
		{"migrate to an offline node", MigrateVM("vm1", "n1", "n3", 0, 1)},
		{"resume a ready vm", ResumeVM("vm3", "n1", "n1", 0, 1)},
		{"shut down a busy node", ShutdownNode("n1", 0, 1)},
		{"boot an online node", BootNode("n1", 0, 1)},
		{"forge an existing vm", ForgeVM("vm3", 0, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(newOrigin(t))
			require.NoError(t, p.Add(tc.action))
			_, err := p.Result()
			assert.ErrorIs(t, err, ErrIllegalAction)
		})
	}
}

func TestPlan_RejectsOverlapsAndBadTimings(t *testing.T) {
	p := New(newOrigin(t))
	assert.ErrorIs(t, p.Add(BootVM("vm3", "n1", 3, 2)), ErrInvalidTiming)

	require.NoError(t, p.Add(SuspendVM("vm1", "n1", "n1", 0, 4)))
	require.NoError(t, p.Add(KillVM("vm1", "n1", 2, 3)))
	_, err := p.Result()
	assert.ErrorIs(t, err, ErrOverlap)
}

func TestIsLegal(t *testing.T) {
	assert.True(t, IsLegal(ActionMigrateVM, model.VMStateRunning))
	assert.True(t, IsLegal(ActionKillVM, model.VMStateSleeping))
	assert.False(t, IsLegal(ActionResumeVM, model.VMStateReady))
	assert.False(t, IsLegal(ActionBootNode, model.VMStateReady))
}

func TestDependencies_ExecutionOrder(t *testing.T) {
	p := New(newOrigin(t))
	boot := BootNode("n3", 0, 3)
	mig := MigrateVM("vm1", "n1", "n3", 3, 5)
	off := ShutdownNode("n1", 5, 6)
	other := BootVM("vm3", "n2", 0, 2)
	for _, a := range []Action{off, mig, other, boot} {
		require.NoError(t, p.Add(a))
	}

	deps := p.Dependencies()
	assert.Equal(t, []Action{boot}, deps.DependsOn(mig))
	assert.Equal(t, []Action{mig}, deps.DependsOn(off))
	assert.Empty(t, deps.DependsOn(other))

	order, err := deps.ExecutionOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)
	pos := make(map[Action]int)
	for i, a := range order {
		pos[a] = i
	}
	assert.Less(t, pos[boot], pos[mig])
	assert.Less(t, pos[mig], pos[off])
}
