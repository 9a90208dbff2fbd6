package scheduler

import (
	"fmt"

	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

// attributeKeys names the attribute overriding the duration of each action kind.
var attributeKeys = map[plan.ActionKind]string{
	plan.ActionMigrateVM:    "migrate",
	plan.ActionBootVM:       "boot",
	plan.ActionShutdownVM:   "shutdown",
	plan.ActionSuspendVM:    "suspend",
	plan.ActionResumeVM:     "resume",
	plan.ActionForgeVM:      "forge",
	plan.ActionKillVM:       "kill",
	plan.ActionBootNode:     "boot",
	plan.ActionShutdownNode: "shutdown",
}

// DurationEvaluators estimates the duration of actions. Every kind lasts 1 unless
// a default is registered. A VM or node attribute named after the action
// (migrate, boot, shutdown, ...) overrides the default for that element.
type DurationEvaluators struct {
	defaults map[plan.ActionKind]int
}

// NewDurationEvaluators returns evaluators with unit durations.
func NewDurationEvaluators() *DurationEvaluators {
	return &DurationEvaluators{defaults: make(map[plan.ActionKind]int)}
}

// Register sets the default duration of a kind.
func (d *DurationEvaluators) Register(kind plan.ActionKind, duration int) *DurationEvaluators {
	d.defaults[kind] = duration
	return d
}

func (d *DurationEvaluators) base(kind plan.ActionKind) int {
	if v, ok := d.defaults[kind]; ok {
		return v
	}
	return 1
}

// EvaluateVM returns the duration of an action on a VM.
func (d *DurationEvaluators) EvaluateVM(mo *model.Model, kind plan.ActionKind, vm model.VM) (int, error) {
	v := d.base(kind)
	if o, ok := mo.Attributes().VMInt(vm, attributeKeys[kind]); ok {
		v = o
	}
	if v <= 0 {
		return 0, &BuildError{Entity: string(vm), Err: fmt.Errorf("%s lasts %d: %w", kind, v, ErrInvalidDuration)}
	}
	return v, nil
}

// EvaluateNode returns the duration of an action on a node.
func (d *DurationEvaluators) EvaluateNode(mo *model.Model, kind plan.ActionKind, n model.Node) (int, error) {
	v := d.base(kind)
	if o, ok := mo.Attributes().NodeInt(n, attributeKeys[kind]); ok {
		v = o
	}
	if v <= 0 {
		return 0, &BuildError{Entity: string(n), Err: fmt.Errorf("%s lasts %d: %w", kind, v, ErrInvalidDuration)}
	}
	return v, nil
}
