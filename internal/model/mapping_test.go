package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapping_PlacementAndStates(t *testing.T) {
	m := NewMapping()
	m.AddOnlineNode("n1")
	m.AddOnlineNode("n2")
	require.NoError(t, m.AddOfflineNode("n3"))

	require.NoError(t, m.AddRunningVM("vm1", "n1"))
	require.NoError(t, m.AddSleepingVM("vm2", "n2"))
	m.AddReadyVM("vm3")

	assert.Equal(t, VMStateRunning, m.VMState("vm1"))
	assert.Equal(t, VMStateSleeping, m.VMState("vm2"))
	assert.Equal(t, VMStateReady, m.VMState("vm3"))
	assert.Equal(t, VMStateInit, m.VMState("unknown"))

	host, ok := m.Location("vm1")
	require.True(t, ok)
	assert.Equal(t, Node("n1"), host)
	_, ok = m.Location("vm3")
	assert.False(t, ok)

	assert.Equal(t, []Node{"n1", "n2"}, m.OnlineNodes())
	assert.Equal(t, []Node{"n3"}, m.OfflineNodes())
	assert.Equal(t, []VM{"vm1"}, m.RunningVMs("n1"))
	assert.Equal(t, []VM{"vm2"}, m.SleepingVMs("n2"))
}

func TestMapping_RejectsOfflineHost(t *testing.T) {
	m := NewMapping()
	require.NoError(t, m.AddOfflineNode("n1"))

	err := m.AddRunningVM("vm1", "n1")
	assert.ErrorIs(t, err, ErrNodeOffline)

	err = m.AddRunningVM("vm1", "ghost")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestMapping_CannotTurnOffBusyNode(t *testing.T) {
	m := NewMapping()
	m.AddOnlineNode("n1")
	require.NoError(t, m.AddRunningVM("vm1", "n1"))

	assert.ErrorIs(t, m.AddOfflineNode("n1"), ErrNodeNotEmpty)

	// Moving a VM keeps a single entry.
	m.AddOnlineNode("n2")
	require.NoError(t, m.AddRunningVM("vm1", "n2"))
	assert.Len(t, m.VMs(), 1)
	require.NoError(t, m.AddOfflineNode("n1"))
}

func TestMapping_CloneIsIndependent(t *testing.T) {
	m := NewMapping()
	m.AddOnlineNode("n1")
	require.NoError(t, m.AddRunningVM("vm1", "n1"))

	c := m.Clone()
	require.True(t, m.Equal(c))

	assert.True(t, c.Remove("vm1"))
	assert.False(t, m.Equal(c))
	assert.Equal(t, VMStateRunning, m.VMState("vm1"))
}

func TestShareableResource_Defaults(t *testing.T) {
	r := NewShareableResource("cpu", 8, 1)
	r.SetCapacity("n1", 4).SetConsumption("vm1", 3)

	assert.Equal(t, 4, r.Capacity("n1"))
	assert.Equal(t, 8, r.Capacity("n2"))
	assert.Equal(t, 3, r.Consumption("vm1"))
	assert.Equal(t, 1, r.Consumption("vm2"))
	assert.Equal(t, 4, r.SumConsumption([]VM{"vm1", "vm2"}))
	assert.Equal(t, 12, r.SumCapacity([]Node{"n1", "n2"}))
}

func TestAttributes_TypedAccess(t *testing.T) {
	a := NewAttributes()
	a.PutVM("vm1", "migrate", "5")
	a.PutVM("vm1", "exclusive", "true")
	a.PutNode("n1", "boot", "abc")

	v, ok := a.VMInt("vm1", "migrate")
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.True(t, a.VMBool("vm1", "exclusive"))
	assert.False(t, a.VMBool("vm2", "exclusive"))

	_, ok = a.NodeInt("n1", "boot")
	assert.False(t, ok)
	assert.Equal(t, []Node{"n1"}, a.NodesWithAttributes())
}
