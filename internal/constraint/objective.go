package constraint

import (
	"fmt"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/scheduler"
)

// MinMTTR minimizes the sum of the completion times of the transitions.
type MinMTTR struct{}

func (MinMTTR) String() string { return "minimizeMTTR()" }

func (MinMTTR) Inject(p *scheduler.Problem) error {
	var ends []csp.Var
	for _, t := range p.VMTransitions() {
		if t.IsManaged() {
			ends = append(ends, t.End())
		}
	}
	for _, t := range p.NodeTransitions() {
		ends = append(ends, t.End())
	}
	cost := p.Store().IntVar("mttr", 0, p.MaxEnd()*max(len(ends), 1))
	p.Post(csp.Sum(ends, cost))
	p.SetObjective(true, cost)
	return nil
}

// MinMakespan minimizes the duration of the plan.
type MinMakespan struct{}

func (MinMakespan) String() string { return "minimizeMakespan()" }

func (MinMakespan) Inject(p *scheduler.Problem) error {
	p.SetObjective(true, p.End())
	return nil
}

// MinActiveNodes minimizes the number of nodes hosting running VMs at the end of the plan.
type MinActiveNodes struct{}

func (MinActiveNodes) String() string { return "minimizeActiveNodes()" }

func (MinActiveNodes) Inject(p *scheduler.Problem) error {
	s := p.Store()
	active := make([]csp.Var, len(p.Nodes()))
	for i, n := range p.Nodes() {
		active[i] = s.BoolVar(fmt.Sprintf("active(%s)", n))
		p.Post(csp.GtReif(active[i], p.NbRunningVMs(i), 0))
	}
	cost := s.IntVar("activeNodes", 0, len(active))
	p.Post(csp.Sum(active, cost))
	p.SetObjective(true, cost)
	// Filling the nodes already in use first reaches good bounds sooner.
	hosts := p.FutureHosts(p.VMs())
	p.AddHeuristic(csp.FirstFail(hosts, func(s *csp.Store, v csp.Var) (int, bool) {
		for _, x := range s.Values(v) {
			if s.Min(p.NbRunningVMs(x)) > 0 {
				return x, true
			}
		}
		return 0, false
	}))
	return nil
}

// MinMigrations minimizes the number of migrated VMs.
type MinMigrations struct{}

func (MinMigrations) String() string { return "minimizeMigrations()" }

func (MinMigrations) Inject(p *scheduler.Problem) error {
	s := p.Store()
	var moved []csp.Var
	for _, t := range p.VMTransitions() {
		r, ok := t.(scheduler.Relocation)
		if !ok || !t.IsManaged() {
			continue
		}
		m := s.BoolVar(fmt.Sprintf("moved(%s)", t.VM()))
		p.Post(csp.EqReif(m, r.Stay(), 0))
		moved = append(moved, m)
	}
	cost := s.IntVar("migrations", 0, len(moved))
	p.Post(csp.Sum(moved, cost))
	p.SetObjective(true, cost)
	return nil
}
