package instance

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/limiquantix/planner/internal/constraint"
	"github.com/limiquantix/planner/internal/scheduler"
)

// Builder creates a constraint from its arguments.
type Builder func(a constraint.Args) (scheduler.Constraint, error)

// Registry maps constraint and objective ids to their builders.
type Registry struct {
	constraints map[string]Builder
	objectives  map[string]func() scheduler.Objective
}

// NewRegistry returns a registry knowing every constraint and objective of
// the catalogue.
func NewRegistry() *Registry {
	r := &Registry{
		constraints: make(map[string]Builder),
		objectives:  make(map[string]func() scheduler.Objective),
	}

	r.Register("running", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewRunning(a.VMs...), needVMs(a)
	})
	r.Register("ready", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewReady(a.VMs...), needVMs(a)
	})
	r.Register("sleeping", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewSleeping(a.VMs...), needVMs(a)
	})
	r.Register("killed", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewKilled(a.VMs...), needVMs(a)
	})
	r.Register("online", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewOnline(a.Nodes...), needNodes(a)
	})
	r.Register("offline", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewOffline(a.Nodes...), needNodes(a)
	})
	r.Register("fence", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewFence(a.VMs, a.Nodes), needBoth(a)
	})
	r.Register("ban", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewBan(a.VMs, a.Nodes), needBoth(a)
	})
	r.Register("root", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewRoot(a.VMs...), needVMs(a)
	})
	r.Register("quarantine", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewQuarantine(a.Nodes...), needNodes(a)
	})
	r.Register("spread", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewSpread(a.VMs...), needVMs(a)
	})
	r.Register("gather", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewGather(a.VMs...), needVMs(a)
	})
	r.Register("lonely", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewLonely(a.VMs...), needVMs(a)
	})
	r.Register("split", func(a constraint.Args) (scheduler.Constraint, error) {
		if len(a.VMGroups) == 0 {
			return nil, fmt.Errorf("vmGroups required: %w", ErrInvalidDocument)
		}
		return constraint.NewSplit(a.VMGroups...), nil
	})
	r.Register("among", func(a constraint.Args) (scheduler.Constraint, error) {
		if len(a.NodeGroups) == 0 {
			return nil, fmt.Errorf("nodeGroups required: %w", ErrInvalidDocument)
		}
		return constraint.NewAmong(a.VMs, a.NodeGroups), needVMs(a)
	})
	r.Register("splitAmong", func(a constraint.Args) (scheduler.Constraint, error) {
		if len(a.VMGroups) == 0 || len(a.NodeGroups) == 0 {
			return nil, fmt.Errorf("vmGroups and nodeGroups required: %w", ErrInvalidDocument)
		}
		return constraint.NewSplitAmong(a.VMGroups, a.NodeGroups), nil
	})
	r.Register("preserve", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewPreserve(a.VMs, a.Resource, a.Amount), multierr.Combine(needVMs(a), needResource(a))
	})
	r.Register("overbook", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewOverbook(a.Nodes, a.Resource, a.Ratio), multierr.Combine(needNodes(a), needResource(a))
	})
	r.Register("singleResourceCapacity", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewSingleResourceCapacity(a.Nodes, a.Resource, a.Amount), multierr.Combine(needNodes(a), needResource(a))
	})
	r.Register("resourceCapacity", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewResourceCapacity(a.Nodes, a.Resource, a.Amount), multierr.Combine(needNodes(a), needResource(a))
	})
	r.Register("singleRunningCapacity", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewSingleRunningCapacity(a.Nodes, a.Amount), needNodes(a)
	})
	r.Register("runningCapacity", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewRunningCapacity(a.Nodes, a.Amount), needNodes(a)
	})
	r.Register("maxOnline", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewMaxOnline(a.Nodes, a.Amount), needNodes(a)
	})
	r.Register("sequentialVMTransitions", func(a constraint.Args) (scheduler.Constraint, error) {
		return constraint.NewSequentialVMTransitions(a.VMs...), needVMs(a)
	})

	r.RegisterObjective(constraint.MinMTTR{})
	r.RegisterObjective(constraint.MinMakespan{})
	r.RegisterObjective(constraint.MinActiveNodes{})
	r.RegisterObjective(constraint.MinMigrations{})
	return r
}

// Register adds or replaces the builder of a constraint id.
func (r *Registry) Register(id string, b Builder) {
	r.constraints[id] = b
}

// RegisterObjective adds a stateless objective, identified by its name.
func (r *Registry) RegisterObjective(o scheduler.Objective) {
	r.objectives[objectiveID(o)] = func() scheduler.Objective { return o }
}

// Constraints returns the known constraint ids, sorted.
func (r *Registry) Constraints() []string {
	ids := make([]string, 0, len(r.constraints))
	for id := range r.constraints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Constraint builds the constraint described by a document.
func (r *Registry) Constraint(d ConstraintDoc) (scheduler.Constraint, error) {
	b, ok := r.constraints[d.ID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", d.ID, ErrUnknownConstraint)
	}
	c, err := b(constraint.Args{
		VMs:        d.VMs,
		Nodes:      d.Nodes,
		VMGroups:   d.VMGroups,
		NodeGroups: d.NodeGroups,
		Resource:   d.Resource,
		Amount:     d.Amount,
		Ratio:      d.Ratio,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.ID, err)
	}
	if d.Continuous != nil {
		sc, ok := c.(interface{ SetContinuous(bool) })
		if !ok {
			return nil, fmt.Errorf("%s has no restriction mode: %w", d.ID, ErrInvalidDocument)
		}
		sc.SetContinuous(*d.Continuous)
	}
	return c, nil
}

// Objective builds the objective described by a document.
func (r *Registry) Objective(d ObjectiveDoc) (scheduler.Objective, error) {
	f, ok := r.objectives[d.ID]
	if !ok {
		return nil, fmt.Errorf("%q: %w", d.ID, ErrUnknownObjective)
	}
	return f(), nil
}

// describable is implemented by the constraints of the catalogue.
type describable interface {
	ID() string
	Args() constraint.Args
}

// constraintDoc converts a constraint back into its document.
func (r *Registry) constraintDoc(c scheduler.Constraint) (ConstraintDoc, error) {
	dc, ok := c.(describable)
	if !ok {
		return ConstraintDoc{}, fmt.Errorf("%s cannot be serialized: %w", c, ErrUnknownConstraint)
	}
	if _, ok := r.constraints[dc.ID()]; !ok {
		return ConstraintDoc{}, fmt.Errorf("%q: %w", dc.ID(), ErrUnknownConstraint)
	}
	a := dc.Args()
	continuous := a.Continuous
	return ConstraintDoc{
		ID:         dc.ID(),
		VMs:        a.VMs,
		Nodes:      a.Nodes,
		VMGroups:   a.VMGroups,
		NodeGroups: a.NodeGroups,
		Resource:   a.Resource,
		Amount:     a.Amount,
		Ratio:      a.Ratio,
		Continuous: &continuous,
	}, nil
}

func objectiveID(o scheduler.Objective) string {
	return strings.TrimSuffix(o.String(), "()")
}

func needVMs(a constraint.Args) error {
	if len(a.VMs) == 0 {
		return fmt.Errorf("vms required: %w", ErrInvalidDocument)
	}
	return nil
}

func needNodes(a constraint.Args) error {
	if len(a.Nodes) == 0 {
		return fmt.Errorf("nodes required: %w", ErrInvalidDocument)
	}
	return nil
}

func needBoth(a constraint.Args) error {
	return multierr.Combine(needVMs(a), needNodes(a))
}

func needResource(a constraint.Args) error {
	if a.Resource == "" {
		return fmt.Errorf("rc required: %w", ErrInvalidDocument)
	}
	return nil
}

