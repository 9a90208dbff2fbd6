// Package repository declares the storage contracts of the control plane.
// Implementations live in the memory, postgres, redis and etcd subpackages.
package repository

import (
	"context"
	"time"

	"github.com/limiquantix/planner/internal/domain"
)

// NodeRepository stores the hypervisor inventory.
type NodeRepository interface {
	Create(ctx context.Context, n *domain.Node) (*domain.Node, error)
	Get(ctx context.Context, id string) (*domain.Node, error)
	List(ctx context.Context) ([]*domain.Node, error)
	Update(ctx context.Context, n *domain.Node) (*domain.Node, error)
	Delete(ctx context.Context, id string) error
}

// VMRepository stores the virtual machine inventory.
type VMRepository interface {
	Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error)
	Get(ctx context.Context, id string) (*domain.VirtualMachine, error)
	List(ctx context.Context) ([]*domain.VirtualMachine, error)
	ListByNode(ctx context.Context, nodeID string) ([]*domain.VirtualMachine, error)
	Update(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error)
	Delete(ctx context.Context, id string) error
}

// PolicyRepository stores placement policies.
type PolicyRepository interface {
	Create(ctx context.Context, p *domain.PlacementPolicy) (*domain.PlacementPolicy, error)
	Get(ctx context.Context, id string) (*domain.PlacementPolicy, error)
	List(ctx context.Context) ([]*domain.PlacementPolicy, error)
	Delete(ctx context.Context, id string) error
}

// PlanRepository stores computed plans and their workflow status.
type PlanRepository interface {
	Create(ctx context.Context, p *domain.PlanRecord) (*domain.PlanRecord, error)
	Get(ctx context.Context, id string) (*domain.PlanRecord, error)
	List(ctx context.Context, filter domain.PlanFilter) ([]*domain.PlanRecord, error)
	Update(ctx context.Context, p *domain.PlanRecord) (*domain.PlanRecord, error)
	DeleteOld(ctx context.Context, olderThan time.Time) (int, error)
}

// PlanCache memoizes solved plans by instance fingerprint. A miss returns
// domain.ErrNotFound.
type PlanCache interface {
	GetPlan(ctx context.Context, fingerprint string) (*domain.PlanRecord, error)
	SetPlan(ctx context.Context, fingerprint string, p *domain.PlanRecord) error
}
