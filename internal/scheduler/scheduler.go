package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/model"
)

// Instance is a source model with the constraints its reconfiguration must
// satisfy and an optional objective.
type Instance struct {
	Model       *model.Model
	Constraints []Constraint
	Objective   Objective
}

// Scheduler turns instances into plans.
type Scheduler struct {
	params Parameters
	logger *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(params Parameters, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		params: params.withDefaults(),
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Parameters returns the solving parameters.
func (s *Scheduler) Parameters() Parameters { return s.params }

// Build creates the problem of an instance. The state constraints give the
// next state of their VMs; other VMs keep their current state. In repair mode
// only the VMs that may be misplaced or change state are manageable.
func (s *Scheduler) Build(inst Instance) (*Problem, error) {
	if inst.Model == nil {
		return nil, fmt.Errorf("instance without model: %w", ErrInvalidArgument)
	}
	m := inst.Model.Mapping()
	next := make(map[model.VMState][]model.VM)
	requested := make(map[model.VM]bool)
	for _, c := range inst.Constraints {
		sc, ok := c.(StateConstraint)
		if !ok {
			continue
		}
		for _, vm := range sc.InvolvedVMs() {
			next[sc.NextState()] = append(next[sc.NextState()], vm)
			requested[vm] = true
		}
	}
	for _, vm := range m.VMs() {
		if !requested[vm] {
			st := m.VMState(vm)
			next[st] = append(next[st], vm)
		}
	}

	b := NewProblemBuilder(inst.Model).
		NextStates(next[model.VMStateReady], next[model.VMStateRunning], next[model.VMStateSleeping], next[model.VMStateKilled]).
		Constraints(inst.Constraints...).
		Objective(inst.Objective).
		Params(s.params).
		Logger(s.logger)
	if s.params.Repair {
		b.Manageable(s.manageable(inst, requested))
	}
	return b.Build()
}

// manageable computes the VMs the solver may move in repair mode.
func (s *Scheduler) manageable(inst Instance, requested map[model.VM]bool) []model.VM {
	m := inst.Model.Mapping()
	seen := make(map[model.VM]bool)
	var res []model.VM
	add := func(vm model.VM) {
		if !seen[vm] {
			seen[vm] = true
			res = append(res, vm)
		}
	}
	for _, c := range inst.Constraints {
		if sc, ok := c.(StateConstraint); ok {
			for _, vm := range sc.InvolvedVMs() {
				if m.VMState(vm) != sc.NextState() {
					add(vm)
				}
			}
			continue
		}
		for _, vm := range c.MisplacedVMs(inst.Model) {
			add(vm)
		}
	}
	s.logger.Debug("repair mode",
		zap.Int("manageable", len(res)),
		zap.Int("vms", len(m.VMs())),
		zap.Int("requested", len(requested)),
	)
	return res
}

// Solve builds and solves an instance. A nil plan in the result means no plan
// was found; errors are reserved to invalid instances.
func (s *Scheduler) Solve(ctx context.Context, inst Instance) (*Result, error) {
	p, err := s.Build(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to build problem: %w", err)
	}
	return p.Solve(ctx)
}
