package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/limiquantix/planner/internal/model"
)

var (
	// ErrIllegalAction is returned when an action does not fit the state of its subject.
	ErrIllegalAction = errors.New("illegal action")

	// ErrInvalidTiming is returned for actions with negative or reversed bounds.
	ErrInvalidTiming = errors.New("invalid action timing")

	// ErrOverlap is returned when two actions on the same VM overlap in time.
	ErrOverlap = errors.New("overlapping actions")
)

// ReconfigurationPlan is a set of timed actions to apply on an origin model.
type ReconfigurationPlan struct {
	ID      string
	origin  *model.Model
	actions []Action
}

// New creates an empty plan for the given origin model.
func New(origin *model.Model) *ReconfigurationPlan {
	return &ReconfigurationPlan{ID: uuid.NewString(), origin: origin}
}

// Origin returns the model the plan starts from.
func (p *ReconfigurationPlan) Origin() *model.Model { return p.origin }

// Add appends an action.
func (p *ReconfigurationPlan) Add(a Action) error {
	if a.Start < 0 || a.End < a.Start {
		return fmt.Errorf("%s: %w", a, ErrInvalidTiming)
	}
	p.actions = append(p.actions, a)
	return nil
}

// Actions returns the actions ordered by start time. Node boots come first and
// node shutdowns last among actions starting at the same time.
func (p *ReconfigurationPlan) Actions() []Action {
	res := append([]Action(nil), p.actions...)
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if pa, pb := priority(a.Kind), priority(b.Kind); pa != pb {
			return pa < pb
		}
		return a.End < b.End
	})
	return res
}

func priority(k ActionKind) int {
	switch k {
	case ActionBootNode:
		return 0
	case ActionShutdownNode:
		return 2
	default:
		return 1
	}
}

// Size returns the number of actions.
func (p *ReconfigurationPlan) Size() int { return len(p.actions) }

// Duration returns the end of the latest action.
func (p *ReconfigurationPlan) Duration() int {
	d := 0
	for _, a := range p.actions {
		d = max(d, a.End)
	}
	return d
}

// ActionsOf returns the actions on a VM, ordered by start time.
func (p *ReconfigurationPlan) ActionsOf(vm model.VM) []Action {
	var res []Action
	for _, a := range p.Actions() {
		if a.VM == vm {
			res = append(res, a)
		}
	}
	return res
}

// Result applies the plan on a copy of its origin and returns the resulting model.
func (p *ReconfigurationPlan) Result() (*model.Model, error) {
	if err := p.checkOverlaps(); err != nil {
		return nil, err
	}
	res := p.origin.Clone()
	m := res.Mapping()
	vmFSM := make(map[model.VM]*fsm.FSM)
	nodeFSM := make(map[model.Node]*fsm.FSM)

	for _, a := range p.Actions() {
		if a.Kind.IsNodeAction() {
			f, ok := nodeFSM[a.Node]
			if !ok {
				st, known := m.NodeState(a.Node)
				if !known {
					return nil, fmt.Errorf("%s: %w", a, model.ErrUnknownNode)
				}
				f = newNodeLifecycle(st)
				nodeFSM[a.Node] = f
			}
			if err := applyNode(m, f, a); err != nil {
				return nil, err
			}
			continue
		}
		f, ok := vmFSM[a.VM]
		if !ok {
			f = newVMLifecycle(m.VMState(a.VM))
			vmFSM[a.VM] = f
		}
		if err := applyVM(m, f, a); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func applyNode(m *model.Mapping, f *fsm.FSM, a Action) error {
	event := eventBoot
	if a.Kind == ActionShutdownNode {
		event = eventShutdown
	}
	if !f.Can(event) {
		return fmt.Errorf("%s: node is %s: %w", a, f.Current(), ErrIllegalAction)
	}
	if a.Kind == ActionBootNode {
		m.AddOnlineNode(a.Node)
		f.SetState(string(model.NodeStateOnline))
		return nil
	}
	if err := m.AddOfflineNode(a.Node); err != nil {
		return fmt.Errorf("%s: %w: %w", a, ErrIllegalAction, err)
	}
	f.SetState(string(model.NodeStateOffline))
	return nil
}

func applyVM(m *model.Mapping, f *fsm.FSM, a Action) error {
	e, ok := vmEvents[a.Kind]
	if !ok {
		return fmt.Errorf("%s: unsupported kind: %w", a, ErrIllegalAction)
	}
	if !f.Can(e.event) {
		return fmt.Errorf("%s: vm is %s: %w", a, f.Current(), ErrIllegalAction)
	}
	if a.Source != "" {
		if host, ok := m.Location(a.VM); !ok || host != a.Source {
			return fmt.Errorf("%s: vm is not on %s: %w", a, a.Source, ErrIllegalAction)
		}
	}

	var err error
	switch a.Kind {
	case ActionForgeVM, ActionShutdownVM:
		m.AddReadyVM(a.VM)
	case ActionBootVM, ActionMigrateVM, ActionResumeVM:
		err = m.AddRunningVM(a.VM, a.Destination)
	case ActionSuspendVM:
		err = m.AddSleepingVM(a.VM, a.Destination)
	case ActionKillVM:
		m.Remove(a.VM)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", a, ErrIllegalAction, err)
	}
	f.SetState(string(e.to))
	return nil
}

func (p *ReconfigurationPlan) checkOverlaps() error {
	last := make(map[model.VM]Action)
	for _, a := range p.Actions() {
		if a.VM == "" {
			continue
		}
		if prev, ok := last[a.VM]; ok && prev.End > a.Start {
			return fmt.Errorf("%s and %s: %w", prev, a, ErrOverlap)
		}
		last[a.VM] = a
	}
	return nil
}

func (p *ReconfigurationPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s (%d actions, duration %d)\n", p.ID, p.Size(), p.Duration())
	for _, a := range p.Actions() {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	return b.String()
}
