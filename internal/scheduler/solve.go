package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

// Solution is a plan found while searching.
type Solution struct {
	Plan  *plan.ReconfigurationPlan
	Stats SolutionStatistics
}

// Result is the outcome of a solving process. Plan is nil when no solution was
// found; Stats tells whether the problem was proven infeasible.
type Result struct {
	Plan  *plan.ReconfigurationPlan
	Stats SolvingStatistics
}

// Solved reports whether a plan was computed.
func (r *Result) Solved() bool { return r.Plan != nil }

// Solve searches the problem. The result holds the last solution found: the
// first one, or the best one when optimizing. It returns an error only when ctx
// is done before the search starts.
func (p *Problem) Solve(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to start search: %w", err)
	}
	res := &Result{Stats: p.stats}
	optimize := p.hasObjective && p.params.Optimize
	res.Stats.TimeLimit = p.params.TimeLimit
	res.Stats.Optimize = optimize

	if p.infeasible {
		res.Stats.Completed = true
		p.logger.Info("problem is infeasible")
		observeSolve(res)
		return res, nil
	}

	cfg := csp.Config{
		Selector: p.selector(),
		Limits: csp.Limits{
			Time:      p.params.TimeLimit,
			Nodes:     p.params.NodeLimit,
			Solutions: p.params.SolutionLimit,
		},
	}
	if optimize {
		cfg.Objective = &csp.Objective{Var: p.objective, Maximize: p.maximize, Alterer: p.params.Alterer}
	}
	cfg.OnSolution = func(s *csp.Store, st csp.Stats) bool {
		rp, err := p.extract(s)
		if err != nil {
			p.logger.Warn("discarding solution", zap.Error(err))
			return false
		}
		sol := SolutionStatistics{Elapsed: st.Elapsed, Nodes: st.Nodes, Backtracks: st.Backtracks}
		if p.hasObjective {
			sol.HasObjective = true
			sol.Objective = s.Value(p.objective)
		}
		res.Plan = rp
		res.Stats.Solutions = append(res.Stats.Solutions, sol)
		p.logger.Debug("solution found",
			zap.Int("actions", rp.Size()),
			zap.Int("duration", rp.Duration()),
			zap.Int("objective", sol.Objective),
			zap.Duration("elapsed", sol.Elapsed),
		)
		if p.params.OnSolution != nil {
			p.params.OnSolution(Solution{Plan: rp, Stats: sol})
		}
		return true
	}

	began := time.Now()
	st := csp.Search(ctx, p.store, cfg)
	res.Stats.SolvingDuration = time.Since(began)
	res.Stats.Nodes = st.Nodes
	res.Stats.Backtracks = st.Backtracks
	res.Stats.Fails = st.Fails
	res.Stats.Rejected = st.Rejected
	// A rejected assignment satisfied the model, so exhausting the search
	// proves nothing.
	res.Stats.Completed = st.Completed && st.Rejected == 0

	p.logger.Info("search finished",
		zap.Bool("solved", res.Plan != nil),
		zap.Int("solutions", len(res.Stats.Solutions)),
		zap.Int("nodes", st.Nodes),
		zap.Bool("completed", res.Stats.Completed),
		zap.Int("rejected", st.Rejected),
		zap.Duration("elapsed", res.Stats.SolvingDuration),
	)
	observeSolve(res)
	return res, nil
}

// extract converts the solution held by the store into a plan and checks
// that applying it reaches the requested states.
func (p *Problem) extract(s *csp.Store) (*plan.ReconfigurationPlan, error) {
	rp := plan.New(p.src)
	for _, t := range p.nodeTrans {
		if err := t.InsertActions(s, rp); err != nil {
			return nil, fmt.Errorf("failed to insert actions of %s: %w", t.Node(), err)
		}
	}
	for _, t := range p.vmTrans {
		if err := t.InsertActions(s, rp); err != nil {
			return nil, fmt.Errorf("failed to insert actions of %s: %w", t.VM(), err)
		}
	}
	dst, err := rp.Result()
	if err != nil {
		return nil, err
	}
	m := dst.Mapping()
	for vm, st := range p.nextState {
		got := m.VMState(vm)
		if st == model.VMStateKilled {
			if m.ContainsVM(vm) {
				return nil, fmt.Errorf("%s was not killed", vm)
			}
			continue
		}
		if got != st {
			return nil, fmt.Errorf("%s is %s instead of %s", vm, got, st)
		}
	}
	return rp, nil
}

// selector builds the branching strategy: custom heuristics first, then the
// hosts of the VMs, preferring their current host, the node states,
// preferring the current one, the usages and finally the moments.
func (p *Problem) selector() csp.Selector {
	preferred := make(map[csp.Var]int)
	var hosts, states, usages, times []csp.Var
	for _, t := range p.nodeTrans {
		states = append(states, t.State())
		preferred[t.State()] = 0
		if p.src.Mapping().IsOnline(t.Node()) {
			preferred[t.State()] = 1
		}
		times = append(times, t.Start())
	}
	for i, t := range p.vmTrans {
		times = append(times, t.Start())
		d := t.DSlice()
		if d == nil {
			continue
		}
		hosts = append(hosts, d.Host)
		if c := t.CSlice(); c != nil {
			preferred[d.Host] = p.store.Value(c.Host)
		}
		for _, id := range p.resourceIDs {
			if u, ok := p.resources[id].Usage(i); ok {
				usages = append(usages, u)
			}
		}
	}
	prefer := func(_ *csp.Store, v csp.Var) (int, bool) {
		x, ok := preferred[v]
		return x, ok
	}
	sels := append([]csp.Selector(nil), p.heuristics...)
	sels = append(sels,
		csp.FirstFail(hosts, prefer),
		csp.FirstFail(states, prefer),
		csp.MinValue(usages),
		csp.SmallestLB(times),
		csp.MinValue([]csp.Var{p.end}),
	)
	return csp.Sequence(sels...)
}
