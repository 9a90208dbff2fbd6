// Package constraint is the catalogue of placement constraints and objectives
// understood by the scheduler.
package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/scheduler"
)

// base holds the entities of a constraint and its restriction mode.
type base struct {
	id         string
	vms        []model.VM
	nodes      []model.Node
	continuous bool
}

// ID returns the identifier of the constraint kind.
func (b *base) ID() string { return b.id }

func (b *base) InvolvedVMs() []model.VM { return b.vms }

func (b *base) InvolvedNodes() []model.Node { return b.nodes }

func (b *base) IsContinuous() bool { return b.continuous }

// SetContinuous switches between a restriction holding at the end of the plan
// and one holding at every instant.
func (b *base) SetContinuous(c bool) { b.continuous = c }

func (b *base) describe(extra ...string) string {
	var parts []string
	if len(b.vms) > 0 {
		parts = append(parts, "vms="+list(b.vms))
	}
	if len(b.nodes) > 0 {
		parts = append(parts, "nodes="+list(b.nodes))
	}
	parts = append(parts, extra...)
	parts = append(parts, mode(b.continuous))
	return fmt.Sprintf("%s(%s)", b.id, strings.Join(parts, ", "))
}

func list[T ~string](items []T) string {
	s := make([]string, len(items))
	for i, it := range items {
		s[i] = string(it)
	}
	return "[" + strings.Join(s, ", ") + "]"
}

func groups[T ~string](gs [][]T) string {
	s := make([]string, len(gs))
	for i, g := range gs {
		s[i] = list(g)
	}
	return "[" + strings.Join(s, ", ") + "]"
}

func flatten[T any](gs [][]T) []T {
	var res []T
	for _, g := range gs {
		res = append(res, g...)
	}
	return res
}

func toSet[T comparable](items []T) map[T]bool {
	s := make(map[T]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

func sortedVMs(s map[model.VM]bool) []model.VM {
	res := make([]model.VM, 0, len(s))
	for vm := range s {
		res = append(res, vm)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// nodeIndexes converts nodes into problem indexes.
func nodeIndexes(p *scheduler.Problem, nodes []model.Node) []int {
	res := make([]int, 0, len(nodes))
	for _, n := range nodes {
		if i := p.NodeIndex(n); i != scheduler.NotFound {
			res = append(res, i)
		}
	}
	return res
}

// dSlice returns the demanding slice of a VM, nil when it will not be running.
func dSlice(p *scheduler.Problem, vm model.VM) *scheduler.Slice {
	if t := p.VMTransition(vm); t != nil {
		return t.DSlice()
	}
	return nil
}

func cSlice(p *scheduler.Problem, vm model.VM) *scheduler.Slice {
	if t := p.VMTransition(vm); t != nil {
		return t.CSlice()
	}
	return nil
}

// restrictHost keeps the future host of a VM among the allowed indexes.
func restrictHost(p *scheduler.Problem, vm model.VM, allowed map[int]bool) error {
	d := dSlice(p, vm)
	if d == nil {
		return nil
	}
	return p.Store().Restrict(d.Host, func(n int) bool { return allowed[n] })
}

// arriveAfterLeaving makes every VM of mine hosted on the current node of a VM
// of others start only once that VM left.
func arriveAfterLeaving(p *scheduler.Problem, mine, others []model.VM) {
	for _, vm := range mine {
		d := dSlice(p, vm)
		if d == nil {
			continue
		}
		for _, o := range others {
			c := cSlice(p, o)
			if o == vm || c == nil {
				continue
			}
			p.Post(csp.IfEqThenLeq(d.Host, p.Store().Value(c.Host), c.End, 0, d.Start))
		}
	}
}

// runningOn groups the running VMs of vms by host.
func runningOn(mo *model.Model, vms []model.VM) map[model.Node][]model.VM {
	m := mo.Mapping()
	res := make(map[model.Node][]model.VM)
	for _, vm := range vms {
		if m.VMState(vm) != model.VMStateRunning {
			continue
		}
		n, _ := m.Location(vm)
		res[n] = append(res[n], vm)
	}
	return res
}
