package domain

import (
	"time"
)

// VMState represents the power state of a virtual machine.
type VMState string

const (
	VMStatePending   VMState = "PENDING"
	VMStateRunning   VMState = "RUNNING"
	VMStateStopped   VMState = "STOPPED"
	VMStateSuspended VMState = "SUSPENDED"
	VMStateMigrating VMState = "MIGRATING"
	VMStateDeleted   VMState = "DELETED"
)

// VirtualMachine represents a virtual machine in the system.
type VirtualMachine struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	ProjectID string            `json:"project_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`

	Spec   VMSpec   `json:"spec"`
	Status VMStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VMSpec represents the desired configuration of a virtual machine.
type VMSpec struct {
	CPUCores  int32 `json:"cpu_cores"`
	MemoryMiB int64 `json:"memory_mib"`

	// DesiredState is the state the VM must reach. Empty keeps the current one.
	DesiredState VMState `json:"desired_state,omitempty"`

	// MigrationSeconds estimates the duration of a live migration. Zero keeps
	// the default.
	MigrationSeconds int `json:"migration_seconds,omitempty"`

	// AutoRestart VMs are restarted elsewhere when their node fails.
	AutoRestart bool `json:"auto_restart,omitempty"`
}

// VMStatus represents the observed state of a virtual machine.
type VMStatus struct {
	State  VMState `json:"state"`
	NodeID string  `json:"node_id,omitempty"`
}

// IsHosted returns true if the VM occupies a node.
func (vm *VirtualMachine) IsHosted() bool {
	switch vm.Status.State {
	case VMStateRunning, VMStateMigrating, VMStateSuspended:
		return vm.Status.NodeID != ""
	}
	return false
}

// Validate checks the VM fields.
func (vm *VirtualMachine) Validate() error {
	if vm.ID == "" || vm.Spec.CPUCores < 0 || vm.Spec.MemoryMiB < 0 {
		return ErrInvalidArgument
	}
	switch vm.Status.State {
	case VMStateRunning, VMStateMigrating, VMStateSuspended:
		if vm.Status.NodeID == "" {
			return ErrInvalidArgument
		}
	case VMStatePending, VMStateStopped:
	default:
		return ErrInvalidArgument
	}
	switch vm.Spec.DesiredState {
	case "", VMStateRunning, VMStateStopped, VMStateSuspended, VMStateDeleted:
	default:
		return ErrInvalidArgument
	}
	return nil
}
