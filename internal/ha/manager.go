// Package ha detects failed nodes and hands the restart of their VMs over to
// the planner.
package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/repository"
)

// Planner computes a plan for the current inventory.
type Planner interface {
	RunOnce(ctx context.Context) (*domain.PlanRecord, error)
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// NodeState tracks the health state of a node.
type NodeState struct {
	NodeID        string           `json:"node_id"`
	Hostname      string           `json:"hostname"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
	FailedChecks  int              `json:"failed_checks"`
	Status        NodeHealthStatus `json:"status"`
}

// NodeHealthStatus represents the health status of a node.
type NodeHealthStatus string

const (
	NodeHealthStatusHealthy NodeHealthStatus = "HEALTHY"
	NodeHealthStatusUnknown NodeHealthStatus = "UNKNOWN"
	NodeHealthStatusFailed  NodeHealthStatus = "FAILED"
)

// Manager is the HA manager. A node whose heartbeat is older than the
// timeout for FailureThreshold checks in a row is declared failed: it is
// switched offline, its VMs are stopped, the auto-restart ones are requested
// running again, and the planner is asked for a plan placing them.
type Manager struct {
	config        config.HAConfig
	nodeRepo      repository.NodeRepository
	vmRepo        repository.VMRepository
	planner       Planner
	leaderChecker LeaderChecker
	logger        *zap.Logger
	now           func() time.Time

	mu         sync.RWMutex
	nodeStates map[string]*NodeState
	isRunning  bool
}

// NewManager creates a new HA manager. planner and leaderChecker may be nil.
func NewManager(
	cfg config.HAConfig,
	nodeRepo repository.NodeRepository,
	vmRepo repository.VMRepository,
	planner Planner,
	leaderChecker LeaderChecker,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		config:        cfg,
		nodeRepo:      nodeRepo,
		vmRepo:        vmRepo,
		planner:       planner,
		leaderChecker: leaderChecker,
		logger:        logger.With(zap.String("component", "ha")),
		now:           time.Now,
		nodeStates:    make(map[string]*NodeState),
	}
}

// Start begins the HA monitoring loop.
func (m *Manager) Start(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("HA manager disabled")
		return
	}

	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.logger.Info("Starting HA manager",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Int("failure_threshold", m.config.FailureThreshold),
	)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("HA manager stopped")
			m.mu.Lock()
			m.isRunning = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.checkNodes(ctx)
		}
	}
}

// Heartbeat records that a node is alive.
func (m *Manager) Heartbeat(ctx context.Context, nodeID string) (*domain.Node, error) {
	node, err := m.nodeRepo.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	node.LastHeartbeat = &now
	return m.nodeRepo.Update(ctx, node)
}

// checkNodes monitors all nodes and triggers failover if needed.
func (m *Manager) checkNodes(ctx context.Context) {
	if m.leaderChecker != nil && !m.leaderChecker.IsLeader() {
		return
	}

	nodes, err := m.nodeRepo.List(ctx)
	if err != nil {
		m.logger.Error("Failed to list nodes", zap.Error(err))
		return
	}

	failed := false
	for _, node := range nodes {
		if node.LastHeartbeat == nil || node.Status.Phase == domain.NodePhaseMaintenance {
			continue
		}
		if m.checkNode(ctx, node) {
			failed = true
		}
	}
	if failed {
		m.replan(ctx)
	}
}

// checkNode checks a single node's health and reports whether it was just
// declared failed.
func (m *Manager) checkNode(ctx context.Context, node *domain.Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.nodeStates[node.ID]
	if !exists {
		state = &NodeState{
			NodeID:   node.ID,
			Hostname: node.Hostname,
			Status:   NodeHealthStatusHealthy,
		}
		m.nodeStates[node.ID] = state
	}
	state.LastHeartbeat = *node.LastHeartbeat

	heartbeatAge := m.now().Sub(*node.LastHeartbeat)
	if heartbeatAge < m.config.HeartbeatTimeout {
		if state.Status == NodeHealthStatusFailed {
			m.logger.Info("Node recovered",
				zap.String("node_id", node.ID),
				zap.String("hostname", node.Hostname),
			)
			m.recover(ctx, node)
		}
		state.FailedChecks = 0
		state.Status = NodeHealthStatusHealthy
		return false
	}
	if state.Status == NodeHealthStatusFailed {
		return false
	}

	state.FailedChecks++
	m.logger.Warn("Node heartbeat missing",
		zap.String("node_id", node.ID),
		zap.String("hostname", node.Hostname),
		zap.Duration("heartbeat_age", heartbeatAge),
		zap.Int("failed_checks", state.FailedChecks),
	)
	if state.FailedChecks < m.config.FailureThreshold {
		state.Status = NodeHealthStatusUnknown
		return false
	}

	state.Status = NodeHealthStatusFailed
	m.logger.Error("Node declared failed",
		zap.String("node_id", node.ID),
		zap.String("hostname", node.Hostname),
	)
	m.failover(ctx, node)
	return true
}

// failover stops the VMs of a failed node and switches it offline.
func (m *Manager) failover(ctx context.Context, failedNode *domain.Node) {
	vms, err := m.vmRepo.ListByNode(ctx, failedNode.ID)
	if err != nil {
		m.logger.Error("Failed to list VMs on failed node", zap.Error(err))
		return
	}

	restarts := 0
	for _, vm := range vms {
		wasRunning := vm.Status.State == domain.VMStateRunning || vm.Status.State == domain.VMStateMigrating
		vm.Status.State = domain.VMStateStopped
		vm.Status.NodeID = ""
		if wasRunning && vm.Spec.AutoRestart {
			vm.Spec.DesiredState = domain.VMStateRunning
			restarts++
		}
		if _, err := m.vmRepo.Update(ctx, vm); err != nil {
			m.logger.Error("Failed to update VM", zap.String("vm_id", vm.ID), zap.Error(err))
		}
	}

	failedNode.Status.Phase = domain.NodePhaseOffline
	if _, err := m.nodeRepo.Update(ctx, failedNode); err != nil {
		m.logger.Error("Failed to update node status", zap.Error(err))
	}

	m.logger.Info("HA failover done",
		zap.String("failed_node_id", failedNode.ID),
		zap.Int("vms", len(vms)),
		zap.Int("restarts", restarts),
	)
}

// recover brings a failed node back once it sends heartbeats again.
func (m *Manager) recover(ctx context.Context, node *domain.Node) {
	if node.Status.Phase != domain.NodePhaseOffline {
		return
	}
	node.Status.Phase = domain.NodePhaseReady
	if _, err := m.nodeRepo.Update(ctx, node); err != nil {
		m.logger.Error("Failed to update node status", zap.Error(err))
	}
}

// replan asks the planner for the restart plan.
func (m *Manager) replan(ctx context.Context) {
	if m.planner == nil {
		return
	}
	rec, err := m.planner.RunOnce(ctx)
	if err != nil {
		m.logger.Error("Failed to plan VM restarts", zap.Error(err))
		return
	}
	if rec != nil {
		m.logger.Info("Restart plan computed",
			zap.String("plan_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Int("actions", len(rec.Actions)),
		)
	}
}

// GetNodeState returns the current health state of a node.
func (m *Manager) GetNodeState(nodeID string) (NodeState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.nodeStates[nodeID]
	if !exists {
		return NodeState{}, false
	}
	return *state, true
}

// GetAllNodeStates returns all node states.
func (m *Manager) GetAllNodeStates() []NodeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]NodeState, 0, len(m.nodeStates))
	for _, v := range m.nodeStates {
		result = append(result, *v)
	}
	return result
}

// IsRunning returns true if the HA manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// ManualFailover fails a node over without waiting for missed heartbeats.
func (m *Manager) ManualFailover(ctx context.Context, nodeID string) error {
	node, err := m.nodeRepo.Get(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}

	m.logger.Info("Manual failover initiated", zap.String("node_id", nodeID))

	m.mu.Lock()
	state, exists := m.nodeStates[nodeID]
	if !exists {
		state = &NodeState{NodeID: node.ID, Hostname: node.Hostname}
		m.nodeStates[nodeID] = state
	}
	state.Status = NodeHealthStatusFailed
	state.FailedChecks = m.config.FailureThreshold
	m.failover(ctx, node)
	m.mu.Unlock()

	m.replan(ctx)
	return nil
}
