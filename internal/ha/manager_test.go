package ha

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository/memory"
)

type fakePlanner struct {
	runs int
}

func (p *fakePlanner) RunOnce(ctx context.Context) (*domain.PlanRecord, error) {
	p.runs++
	return &domain.PlanRecord{ID: "restart", Status: domain.PlanStatusPending}, nil
}

type fakeLeader bool

func (l fakeLeader) IsLeader() bool { return bool(l) }

type fixture struct {
	manager *Manager
	nodes   *memory.NodeRepository
	vms     *memory.VMRepository
	planner *fakePlanner
	clock   time.Time
}

func newFixture(t *testing.T, leader LeaderChecker) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		nodes:   memory.NewNodeRepository(),
		vms:     memory.NewVMRepository(),
		planner: &fakePlanner{},
		clock:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := config.HAConfig{
		Enabled:          true,
		CheckInterval:    time.Second,
		HeartbeatTimeout: 30 * time.Second,
		FailureThreshold: 2,
	}
	f.manager = NewManager(cfg, f.nodes, f.vms, f.planner, leader, zap.NewNop())
	f.manager.now = func() time.Time { return f.clock }

	for _, id := range []string{"n1", "n2"} {
		_, err := f.nodes.Create(ctx, &domain.Node{
			ID:     id,
			Spec:   domain.NodeSpec{CPUCores: 8, MemoryMiB: 8192},
			Status: domain.NodeStatus{Phase: domain.NodePhaseReady},
		})
		require.NoError(t, err)
	}
	vms := []*domain.VirtualMachine{
		{ID: "web", Spec: domain.VMSpec{CPUCores: 2, MemoryMiB: 1024, AutoRestart: true}, Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n1"}},
		{ID: "batch", Spec: domain.VMSpec{CPUCores: 2, MemoryMiB: 1024}, Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n1"}},
		{ID: "db", Spec: domain.VMSpec{CPUCores: 2, MemoryMiB: 1024, AutoRestart: true}, Status: domain.VMStatus{State: domain.VMStateRunning, NodeID: "n2"}},
	}
	for _, vm := range vms {
		_, err := f.vms.Create(ctx, vm)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) heartbeat(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.manager.Heartbeat(context.Background(), id)
		require.NoError(t, err)
	}
}

func TestManager_FailoverAfterThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.heartbeat(t, "n1", "n2")
	f.manager.checkNodes(ctx)

	f.clock = f.clock.Add(time.Minute)
	f.heartbeat(t, "n2")

	f.manager.checkNodes(ctx)
	state, ok := f.manager.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, NodeHealthStatusUnknown, state.Status)
	assert.Equal(t, 0, f.planner.runs)

	f.manager.checkNodes(ctx)
	state, _ = f.manager.GetNodeState("n1")
	assert.Equal(t, NodeHealthStatusFailed, state.Status)
	assert.Equal(t, 1, f.planner.runs)

	n1, err := f.nodes.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodePhaseOffline, n1.Status.Phase)

	web, err := f.vms.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, domain.VMStateStopped, web.Status.State)
	assert.Empty(t, web.Status.NodeID)
	assert.Equal(t, domain.VMStateRunning, web.Spec.DesiredState)

	batch, err := f.vms.Get(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, domain.VMStateStopped, batch.Status.State)
	assert.Empty(t, batch.Spec.DesiredState)

	db, err := f.vms.Get(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, "n2", db.Status.NodeID)

	// Failed nodes are not failed over twice.
	f.manager.checkNodes(ctx)
	assert.Equal(t, 1, f.planner.runs)
}

func TestManager_Recovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.heartbeat(t, "n1", "n2")
	f.clock = f.clock.Add(time.Minute)
	f.manager.checkNodes(ctx)
	f.manager.checkNodes(ctx)

	state, _ := f.manager.GetNodeState("n1")
	require.Equal(t, NodeHealthStatusFailed, state.Status)

	f.heartbeat(t, "n1")
	f.manager.checkNodes(ctx)

	state, _ = f.manager.GetNodeState("n1")
	assert.Equal(t, NodeHealthStatusHealthy, state.Status)
	assert.Zero(t, state.FailedChecks)
	n1, err := f.nodes.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodePhaseReady, n1.Status.Phase)
}

func TestManager_SkipsUnmonitoredNodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.heartbeat(t, "n1")

	n1, err := f.nodes.Get(ctx, "n1")
	require.NoError(t, err)
	n1.Status.Phase = domain.NodePhaseMaintenance
	_, err = f.nodes.Update(ctx, n1)
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Hour)
	f.manager.checkNodes(ctx)
	f.manager.checkNodes(ctx)

	assert.Empty(t, f.manager.GetAllNodeStates())
	assert.Equal(t, 0, f.planner.runs)
}

func TestManager_FollowerDoesNotCheck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fakeLeader(false))
	f.heartbeat(t, "n1")
	f.clock = f.clock.Add(time.Hour)
	f.manager.checkNodes(ctx)
	f.manager.checkNodes(ctx)

	_, ok := f.manager.GetNodeState("n1")
	assert.False(t, ok)
}

func TestManager_ManualFailover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.manager.ManualFailover(ctx, "n2"))
	assert.Equal(t, 1, f.planner.runs)

	db, err := f.vms.Get(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, domain.VMStateStopped, db.Status.State)
	assert.Equal(t, domain.VMStateRunning, db.Spec.DesiredState)

	state, ok := f.manager.GetNodeState("n2")
	require.True(t, ok)
	assert.Equal(t, NodeHealthStatusFailed, state.Status)

	err = f.manager.ManualFailover(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_StartDisabled(t *testing.T) {
	m := NewManager(config.HAConfig{}, memory.NewNodeRepository(), memory.NewVMRepository(), nil, nil, zap.NewNop())
	m.Start(context.Background())
	assert.False(t, m.IsRunning())
}
