package drs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/repository"
)

// Executor carries out the actions of a plan, one at a time, in execution order.
type Executor interface {
	Execute(ctx context.Context, a plan.Action) error
}

// InventoryExecutor applies actions by updating the inventory: it records the
// outcome of every action as if the hypervisors had performed it.
type InventoryExecutor struct {
	nodes  repository.NodeRepository
	vms    repository.VMRepository
	logger *zap.Logger
}

// NewInventoryExecutor creates an executor writing to the inventory.
func NewInventoryExecutor(nodes repository.NodeRepository, vms repository.VMRepository, logger *zap.Logger) *InventoryExecutor {
	return &InventoryExecutor{nodes: nodes, vms: vms, logger: logger}
}

// Execute applies one action.
func (x *InventoryExecutor) Execute(ctx context.Context, a plan.Action) error {
	x.logger.Debug("Executing action", zap.Stringer("action", a))

	if a.Kind.IsNodeAction() {
		n, err := x.nodes.Get(ctx, string(a.Node))
		if err != nil {
			return err
		}
		if a.Kind == plan.ActionBootNode {
			n.Status.Phase = domain.NodePhaseReady
		} else {
			n.Status.Phase = domain.NodePhaseOffline
		}
		_, err = x.nodes.Update(ctx, n)
		return err
	}

	vm, err := x.vms.Get(ctx, string(a.VM))
	if err != nil {
		return err
	}
	switch a.Kind {
	case plan.ActionBootVM, plan.ActionMigrateVM, plan.ActionResumeVM:
		vm.Status = domain.VMStatus{State: domain.VMStateRunning, NodeID: string(a.Destination)}
	case plan.ActionSuspendVM:
		vm.Status = domain.VMStatus{State: domain.VMStateSuspended, NodeID: string(a.Destination)}
	case plan.ActionShutdownVM:
		vm.Status = domain.VMStatus{State: domain.VMStateStopped}
	case plan.ActionKillVM:
		return x.vms.Delete(ctx, vm.ID)
	default:
		return fmt.Errorf("%s: %w", a.Kind, domain.ErrInvalidArgument)
	}
	if vm.Spec.DesiredState == vm.Status.State {
		vm.Spec.DesiredState = ""
	}
	_, err = x.vms.Update(ctx, vm)
	return err
}
