package domain

import (
	"time"
)

// NodePhase represents the lifecycle phase of a node.
type NodePhase string

const (
	NodePhaseReady       NodePhase = "READY"
	NodePhaseNotReady    NodePhase = "NOT_READY"
	NodePhaseMaintenance NodePhase = "MAINTENANCE"
	NodePhaseDraining    NodePhase = "DRAINING"
	NodePhaseOffline     NodePhase = "OFFLINE"
)

// Node represents a physical hypervisor host.
type Node struct {
	ID        string            `json:"id"`
	Hostname  string            `json:"hostname"`
	Labels    map[string]string `json:"labels,omitempty"`
	ClusterID string            `json:"cluster_id,omitempty"`

	Spec   NodeSpec   `json:"spec"`
	Status NodeStatus `json:"status"`

	// LastHeartbeat is set by the node agent. Nodes that never sent one are
	// not monitored for failures.
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NodeSpec represents the capabilities of a node.
type NodeSpec struct {
	CPUCores  int32 `json:"cpu_cores"`
	MemoryMiB int64 `json:"memory_mib"`

	// PowerManaged nodes may be booted or shut down by a plan.
	PowerManaged bool `json:"power_managed"`

	// BootSeconds and ShutdownSeconds estimate power action durations. Zero
	// keeps the default.
	BootSeconds     int `json:"boot_seconds,omitempty"`
	ShutdownSeconds int `json:"shutdown_seconds,omitempty"`
}

// NodeStatus represents the current status of a node.
type NodeStatus struct {
	Phase NodePhase `json:"phase"`
}

// IsOnline returns true if the node is powered on.
func (n *Node) IsOnline() bool {
	return n.Status.Phase != NodePhaseOffline
}

// IsSchedulable returns true if new VMs may be placed on this node.
func (n *Node) IsSchedulable() bool {
	return n.Status.Phase == NodePhaseReady
}

// Validate checks the node fields.
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrInvalidArgument
	}
	switch n.Status.Phase {
	case NodePhaseReady, NodePhaseNotReady, NodePhaseMaintenance, NodePhaseDraining, NodePhaseOffline:
	default:
		return ErrInvalidArgument
	}
	if n.Spec.CPUCores < 0 || n.Spec.MemoryMiB < 0 {
		return ErrInvalidArgument
	}
	return nil
}
