package drs

import (
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/constraint"
	"github.com/limiquantix/planner/internal/domain"
	"github.com/limiquantix/planner/internal/instance"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Resource views of the inventory model.
const (
	ResourceCPU    = "cpu"
	ResourceMemory = "mem"
)

// Inventory is a point-in-time view of the control plane.
type Inventory struct {
	Nodes    []*domain.Node
	VMs      []*domain.VirtualMachine
	Policies []*domain.PlacementPolicy
}

// Model converts the inventory into a model. VMs that cannot be placed, such
// as VMs hosted on an unknown or powered off node, are reported and left out.
func (inv Inventory) Model() (*model.Model, error) {
	mo := model.New()
	m := mo.Mapping()
	cpu := model.NewShareableResource(ResourceCPU, 0, 0)
	mem := model.NewShareableResource(ResourceMemory, 0, 0)
	attrs := mo.Attributes()

	for _, n := range inv.Nodes {
		id := model.Node(n.ID)
		if n.IsOnline() {
			m.AddOnlineNode(id)
		} else if err := m.AddOfflineNode(id); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		cpu.SetCapacity(id, int(n.Spec.CPUCores))
		mem.SetCapacity(id, int(n.Spec.MemoryMiB))
		if n.Spec.BootSeconds > 0 {
			attrs.PutNode(id, "boot", strconv.Itoa(n.Spec.BootSeconds))
		}
		if n.Spec.ShutdownSeconds > 0 {
			attrs.PutNode(id, "shutdown", strconv.Itoa(n.Spec.ShutdownSeconds))
		}
	}

	var errs error
	for _, vm := range inv.VMs {
		id := model.VM(vm.ID)
		var err error
		switch vm.Status.State {
		case domain.VMStateRunning, domain.VMStateMigrating:
			err = m.AddRunningVM(id, model.Node(vm.Status.NodeID))
		case domain.VMStateSuspended:
			err = m.AddSleepingVM(id, model.Node(vm.Status.NodeID))
		default:
			m.AddReadyVM(id)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("vm %s: %w", vm.ID, err))
			continue
		}
		cpu.SetConsumption(id, int(vm.Spec.CPUCores))
		mem.SetConsumption(id, int(vm.Spec.MemoryMiB))
		if vm.Spec.MigrationSeconds > 0 {
			attrs.PutVM(id, "migrate", strconv.Itoa(vm.Spec.MigrationSeconds))
		}
	}

	mo.AttachView(cpu)
	mo.AttachView(mem)
	return mo, errs
}

// builder turns an inventory into an instance to solve.
type builder struct {
	cfg      Config
	registry *instance.Registry
	logger   *zap.Logger
}

// Instance converts the inventory, its desired states and its policies into
// an instance. Inconsistent VMs and invalid policies are logged and skipped.
func (b *builder) Instance(inv Inventory) (*scheduler.Instance, error) {
	mo, err := inv.Model()
	if mo == nil {
		return nil, err
	}
	for _, e := range multierr.Errors(err) {
		b.logger.Warn("Skipping inconsistent VM", zap.Error(e))
	}

	m := mo.Mapping()
	inst := &scheduler.Instance{Model: mo}
	add := func(c scheduler.Constraint) { inst.Constraints = append(inst.Constraints, c) }

	var running, ready, sleeping, killed []model.VM
	for _, vm := range inv.VMs {
		id := model.VM(vm.ID)
		if !m.ContainsVM(id) {
			continue
		}
		cur := m.VMState(id)
		switch vm.Spec.DesiredState {
		case domain.VMStateRunning:
			if cur != model.VMStateRunning {
				running = append(running, id)
			}
		case domain.VMStateStopped:
			if cur != model.VMStateReady {
				ready = append(ready, id)
			}
		case domain.VMStateSuspended:
			if cur != model.VMStateSleeping {
				sleeping = append(sleeping, id)
			}
		case domain.VMStateDeleted:
			killed = append(killed, id)
		}
	}
	if len(running) > 0 {
		add(constraint.NewRunning(running...))
	}
	if len(ready) > 0 {
		add(constraint.NewReady(ready...))
	}
	if len(sleeping) > 0 {
		add(constraint.NewSleeping(sleeping...))
	}
	if len(killed) > 0 {
		add(constraint.NewKilled(killed...))
	}

	var all []model.Node
	for _, n := range inv.Nodes {
		id := model.Node(n.ID)
		all = append(all, id)
		switch n.Status.Phase {
		case domain.NodePhaseNotReady:
			add(constraint.NewQuarantine(id))
		case domain.NodePhaseDraining:
			add(constraint.NewBan(m.VMs(), []model.Node{id}))
		case domain.NodePhaseMaintenance:
			add(constraint.NewBan(m.VMs(), []model.Node{id}))
			if n.Spec.PowerManaged {
				add(constraint.NewOffline(id))
			}
		}
		if n.Spec.PowerManaged {
			continue
		}
		if n.IsOnline() {
			add(constraint.NewOnline(id))
		} else {
			add(constraint.NewOffline(id))
		}
	}

	if b.cfg.DRS.OvercommitCPU > 1 {
		add(constraint.NewOverbook(all, ResourceCPU, b.cfg.DRS.OvercommitCPU))
	}
	if b.cfg.DRS.OvercommitMem > 1 {
		add(constraint.NewOverbook(all, ResourceMemory, b.cfg.DRS.OvercommitMem))
	}

	for _, p := range inv.Policies {
		if !p.Enabled {
			continue
		}
		c, err := b.policy(m, p)
		if err != nil {
			b.logger.Warn("Skipping invalid placement policy",
				zap.String("policy_id", p.ID),
				zap.String("type", p.Type),
				zap.Error(err),
			)
			continue
		}
		add(c)
	}

	if b.cfg.Solver.Objective != "" {
		o, err := b.registry.Objective(instance.ObjectiveDoc{ID: b.cfg.Solver.Objective})
		if err != nil {
			return nil, err
		}
		inst.Objective = o
	}
	return inst, nil
}

// policy converts a placement policy into a constraint. Policies naming
// entities missing from the model are rejected.
func (b *builder) policy(m *model.Mapping, p *domain.PlacementPolicy) (scheduler.Constraint, error) {
	doc := instance.ConstraintDoc{
		ID:         p.Type,
		VMs:        toIDs[model.VM](p.VMIDs),
		Nodes:      toIDs[model.Node](p.NodeIDs),
		Resource:   p.Resource,
		Amount:     p.Amount,
		Ratio:      p.Ratio,
	}
	if p.Continuous {
		doc.Continuous = &p.Continuous
	}
	for _, g := range p.VMGroups {
		doc.VMGroups = append(doc.VMGroups, toIDs[model.VM](g))
	}
	for _, g := range p.NodeGroups {
		doc.NodeGroups = append(doc.NodeGroups, toIDs[model.Node](g))
	}
	c, err := b.registry.Constraint(doc)
	if err != nil {
		return nil, err
	}
	for _, vm := range c.InvolvedVMs() {
		if !m.ContainsVM(vm) {
			return nil, fmt.Errorf("vm %s: %w", vm, domain.ErrNotFound)
		}
	}
	for _, n := range c.InvolvedNodes() {
		if !m.ContainsNode(n) {
			return nil, fmt.Errorf("node %s: %w", n, domain.ErrNotFound)
		}
	}
	if p.Continuous && slices.Contains(discreteOnly, p.Type) {
		return nil, fmt.Errorf("%s: %w", p.Type, scheduler.ErrContinuousUnsupported)
	}
	return c, nil
}

// discreteOnly lists the policy types without a continuous restriction.
var discreteOnly = []string{
	"splitAmong", "maxOnline", "preserve", "resourceCapacity",
	"singleRunningCapacity", "runningCapacity", "sequentialVMTransitions",
}

func toIDs[T ~string](ids []string) []T {
	if ids == nil {
		return nil
	}
	res := make([]T, len(ids))
	for i, id := range ids {
		res[i] = T(id)
	}
	return res
}
