package plan

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DependencyGraph orders the actions of a plan. An action depends on every
// earlier action that finishes before it starts and touches one of its nodes
// or its VM.
type DependencyGraph struct {
	actions []Action
	g       *simple.DirectedGraph
}

// Dependencies builds the dependency graph of the plan.
func (p *ReconfigurationPlan) Dependencies() *DependencyGraph {
	actions := p.Actions()
	g := simple.NewDirectedGraph()
	for i := range actions {
		g.AddNode(simple.Node(i))
	}
	for i, a := range actions {
		for j, b := range actions {
			if i != j && a.End <= b.Start && (a.Start < b.Start || i < j) && related(a, b) {
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}
	return &DependencyGraph{actions: actions, g: g}
}

func related(a, b Action) bool {
	if a.VM != "" && a.VM == b.VM {
		return true
	}
	for _, n := range a.Nodes() {
		for _, m := range b.Nodes() {
			if n == m {
				return true
			}
		}
	}
	return false
}

// DependsOn returns the actions a must wait for, excluding transitive ones.
func (d *DependencyGraph) DependsOn(a Action) []Action {
	idx := d.indexOf(a)
	if idx < 0 {
		return nil
	}
	var res []Action
	preds := d.g.To(int64(idx))
	for preds.Next() {
		pi := preds.Node().ID()
		if !d.transitive(pi, int64(idx)) {
			res = append(res, d.actions[pi])
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Start < res[j].Start })
	return res
}

// transitive reports whether the edge from->to is implied by a longer path.
func (d *DependencyGraph) transitive(from, to int64) bool {
	succ := d.g.From(from)
	for succ.Next() {
		mid := succ.Node().ID()
		if mid != to && d.g.HasEdgeFromTo(mid, to) {
			return true
		}
	}
	return false
}

func (d *DependencyGraph) indexOf(a Action) int {
	for i, b := range d.actions {
		if a == b {
			return i
		}
	}
	return -1
}

// ExecutionOrder returns the actions in a topological order of the graph,
// breaking ties by start time.
func (d *DependencyGraph) ExecutionOrder() ([]Action, error) {
	sorted, err := topo.SortStabilized(d.g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			a, b := d.actions[nodes[i].ID()], d.actions[nodes[j].ID()]
			if a.Start != b.Start {
				return a.Start < b.Start
			}
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to order actions: %w", err)
	}
	res := make([]Action, len(sorted))
	for i, n := range sorted {
		res[i] = d.actions[n.ID()]
	}
	return res, nil
}
