// Package plan holds reconfiguration plans: timed actions on VMs and nodes,
// their legality rules and their application onto a model.
package plan

import (
	"fmt"

	"github.com/limiquantix/planner/internal/model"
)

// ActionKind is the type of an action.
type ActionKind string

const (
	ActionBootVM       ActionKind = "BOOT_VM"
	ActionShutdownVM   ActionKind = "SHUTDOWN_VM"
	ActionMigrateVM    ActionKind = "MIGRATE_VM"
	ActionSuspendVM    ActionKind = "SUSPEND_VM"
	ActionResumeVM     ActionKind = "RESUME_VM"
	ActionKillVM       ActionKind = "KILL_VM"
	ActionForgeVM      ActionKind = "FORGE_VM"
	ActionBootNode     ActionKind = "BOOT_NODE"
	ActionShutdownNode ActionKind = "SHUTDOWN_NODE"
)

// IsNodeAction reports whether the kind targets a node rather than a VM.
func (k ActionKind) IsNodeAction() bool {
	return k == ActionBootNode || k == ActionShutdownNode
}

// Action is a timed operation on a VM or a node. Source and Destination are set
// when meaningful for the kind: Destination for a boot or a resume, Source for a
// shutdown, a suspend or a kill, both for a migration and a suspend-to-node.
type Action struct {
	Kind        ActionKind `json:"kind" yaml:"kind"`
	VM          model.VM   `json:"vm,omitempty" yaml:"vm,omitempty"`
	Node        model.Node `json:"node,omitempty" yaml:"node,omitempty"`
	Source      model.Node `json:"src,omitempty" yaml:"src,omitempty"`
	Destination model.Node `json:"dst,omitempty" yaml:"dst,omitempty"`
	Start       int        `json:"start" yaml:"start"`
	End         int        `json:"end" yaml:"end"`
}

// BootVM starts a ready VM on dst.
func BootVM(vm model.VM, dst model.Node, start, end int) Action {
	return Action{Kind: ActionBootVM, VM: vm, Destination: dst, Start: start, End: end}
}

// ShutdownVM stops a VM running on src.
func ShutdownVM(vm model.VM, src model.Node, start, end int) Action {
	return Action{Kind: ActionShutdownVM, VM: vm, Source: src, Start: start, End: end}
}

// MigrateVM relocates a running VM from src to dst.
func MigrateVM(vm model.VM, src, dst model.Node, start, end int) Action {
	return Action{Kind: ActionMigrateVM, VM: vm, Source: src, Destination: dst, Start: start, End: end}
}

// SuspendVM puts a VM running on src to sleep on dst.
func SuspendVM(vm model.VM, src, dst model.Node, start, end int) Action {
	return Action{Kind: ActionSuspendVM, VM: vm, Source: src, Destination: dst, Start: start, End: end}
}

// ResumeVM wakes a VM sleeping on src up on dst.
func ResumeVM(vm model.VM, src, dst model.Node, start, end int) Action {
	return Action{Kind: ActionResumeVM, VM: vm, Source: src, Destination: dst, Start: start, End: end}
}

// KillVM removes a VM. src is empty when the VM was not hosted.
func KillVM(vm model.VM, src model.Node, start, end int) Action {
	return Action{Kind: ActionKillVM, VM: vm, Source: src, Start: start, End: end}
}

// ForgeVM creates a VM in the ready state.
func ForgeVM(vm model.VM, start, end int) Action {
	return Action{Kind: ActionForgeVM, VM: vm, Start: start, End: end}
}

// BootNode powers a node on.
func BootNode(n model.Node, start, end int) Action {
	return Action{Kind: ActionBootNode, Node: n, Start: start, End: end}
}

// ShutdownNode powers a node off.
func ShutdownNode(n model.Node, start, end int) Action {
	return Action{Kind: ActionShutdownNode, Node: n, Start: start, End: end}
}

// Nodes returns the nodes the action touches.
func (a Action) Nodes() []model.Node {
	var res []model.Node
	for _, n := range []model.Node{a.Node, a.Source, a.Destination} {
		if n != "" && (len(res) == 0 || res[len(res)-1] != n) {
			res = append(res, n)
		}
	}
	return res
}

// Duration returns End - Start.
func (a Action) Duration() int { return a.End - a.Start }

func (a Action) String() string {
	var body string
	switch a.Kind {
	case ActionBootNode, ActionShutdownNode:
		body = fmt.Sprintf("%s(node=%s)", a.Kind, a.Node)
	case ActionMigrateVM, ActionSuspendVM, ActionResumeVM:
		body = fmt.Sprintf("%s(vm=%s, from=%s, to=%s)", a.Kind, a.VM, a.Source, a.Destination)
	case ActionBootVM:
		body = fmt.Sprintf("%s(vm=%s, on=%s)", a.Kind, a.VM, a.Destination)
	case ActionShutdownVM, ActionKillVM:
		body = fmt.Sprintf("%s(vm=%s, on=%s)", a.Kind, a.VM, a.Source)
	default:
		body = fmt.Sprintf("%s(vm=%s)", a.Kind, a.VM)
	}
	return fmt.Sprintf("%d:%d %s", a.Start, a.End, body)
}
