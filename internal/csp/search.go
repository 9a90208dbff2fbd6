package csp

import (
	"context"
	"time"
)

// Operator is the kind of a branching decision.
type Operator int

const (
	// OpAssign branches on v = x, then v != x.
	OpAssign Operator = iota
	// OpSplit branches on v <= x, then v > x.
	OpSplit
)

// Decision is a branching point selected by a Selector.
type Decision struct {
	Var   Var
	Value int
	Op    Operator
}

// Selector picks the next decision. It returns false when it has nothing to decide.
type Selector func(s *Store) (Decision, bool)

// Sequence tries each selector in order.
func Sequence(selectors ...Selector) Selector {
	return func(s *Store) (Decision, bool) {
		for _, sel := range selectors {
			if d, ok := sel(s); ok {
				return d, true
			}
		}
		return Decision{}, false
	}
}

// MinValue assigns the first unfixed variable of vars to its lower bound.
func MinValue(vars []Var) Selector {
	return func(s *Store) (Decision, bool) {
		for _, v := range vars {
			if !s.IsFixed(v) {
				return Decision{Var: v, Value: s.Min(v), Op: OpAssign}, true
			}
		}
		return Decision{}, false
	}
}

// FirstFail assigns the unfixed variable with the smallest domain. The value is
// given by pick, which may return false to fall back to the lower bound.
func FirstFail(vars []Var, pick func(s *Store, v Var) (int, bool)) Selector {
	return func(s *Store) (Decision, bool) {
		best, bestSize := Var(-1), 0
		for _, v := range vars {
			if sz := s.Size(v); sz > 1 && (best < 0 || sz < bestSize) {
				best, bestSize = v, sz
			}
		}
		if best < 0 {
			return Decision{}, false
		}
		val := s.Min(best)
		if pick != nil {
			if x, ok := pick(s, best); ok && s.Contains(best, x) {
				val = x
			}
		}
		return Decision{Var: best, Value: val, Op: OpAssign}, true
	}
}

// SmallestLB assigns the unfixed variable with the smallest lower bound to that bound.
func SmallestLB(vars []Var) Selector {
	return func(s *Store) (Decision, bool) {
		best := Var(-1)
		for _, v := range vars {
			if !s.IsFixed(v) && (best < 0 || s.Min(v) < s.Min(best)) {
				best = v
			}
		}
		if best < 0 {
			return Decision{}, false
		}
		return Decision{Var: best, Value: s.Min(best), Op: OpAssign}, true
	}
}

// AnyUnfixed assigns the first unfixed variable of the store to its lower bound.
func AnyUnfixed() Selector {
	return func(s *Store) (Decision, bool) {
		for i := range s.doms {
			if s.doms[i].size > 1 {
				return Decision{Var: Var(i), Value: s.doms[i].lb, Op: OpAssign}, true
			}
		}
		return Decision{}, false
	}
}

// Objective describes the variable to optimize.
type Objective struct {
	Var      Var
	Maximize bool
	// Alterer computes the bound to enforce after a solution of value best.
	// When nil, the bound is best-1 (or best+1 when maximizing). A stricter
	// bound may cut better solutions, so the search is then never reported
	// as completed.
	Alterer func(best int) int
}

// Limits bound the search effort. Zero values mean unlimited.
type Limits struct {
	Time      time.Duration
	Nodes     int
	Solutions int
}

// Config drives a search.
type Config struct {
	Selector  Selector
	Objective *Objective
	Limits    Limits
	// OnSolution is called while the store holds a solution. Returning false
	// rejects it: the assignment counts as a fail and the search goes on.
	OnSolution func(s *Store, st Stats) bool
}

// Stats describes a finished or interrupted search.
type Stats struct {
	Nodes      int
	Backtracks int
	Fails      int
	Solutions  int
	// Rejected counts the assignments refused by OnSolution.
	Rejected int
	Elapsed  time.Duration
	// Completed is true when the search space was explored entirely and no
	// objective bound stricter than the next improvement was enforced.
	Completed bool
	// HasObjective is true when Best holds the value of the best solution.
	HasObjective bool
	Best         int
}

type searcher struct {
	ctx      context.Context
	s        *Store
	cfg      Config
	stats    Stats
	start    time.Time
	deadline time.Time
	bound    int
	bounded  bool
	altered  bool
	stopped  bool
}

// Search explores the store depth-first. Every solution is reported through
// cfg.OnSolution. Without an objective the search stops at the first solution.
// The store is restored to its initial state when Search returns.
func Search(ctx context.Context, s *Store, cfg Config) Stats {
	sr := &searcher{ctx: ctx, s: s, cfg: cfg, start: time.Now()}
	if cfg.Limits.Time > 0 {
		sr.deadline = sr.start.Add(cfg.Limits.Time)
	}
	if sr.cfg.Selector == nil {
		sr.cfg.Selector = AnyUnfixed()
	}
	s.Push()
	s.ScheduleAll()
	sr.dfs()
	s.Pop()
	sr.stats.Completed = !sr.stopped && !sr.altered
	sr.stats.Elapsed = time.Since(sr.start)
	return sr.stats
}

func (sr *searcher) limitReached() bool {
	if sr.ctx.Err() != nil {
		return true
	}
	if !sr.deadline.IsZero() && time.Now().After(sr.deadline) {
		return true
	}
	l := sr.cfg.Limits
	if l.Nodes > 0 && sr.stats.Nodes >= l.Nodes {
		return true
	}
	return l.Solutions > 0 && sr.stats.Solutions >= l.Solutions
}

func (sr *searcher) applyBound() error {
	if !sr.bounded {
		return nil
	}
	o := sr.cfg.Objective
	if o.Maximize {
		return sr.s.UpdateLB(o.Var, sr.bound)
	}
	return sr.s.UpdateUB(o.Var, sr.bound)
}

// dfs returns true when the search must stop.
func (sr *searcher) dfs() bool {
	if sr.limitReached() {
		sr.stopped = true
		return true
	}
	sr.stats.Nodes++
	if err := sr.applyBound(); err != nil {
		sr.stats.Fails++
		return false
	}
	if err := sr.s.Propagate(); err != nil {
		sr.stats.Fails++
		return false
	}
	d, ok := sr.cfg.Selector(sr.s)
	if !ok {
		if d, ok = AnyUnfixed()(sr.s); !ok {
			return sr.solution()
		}
	}

	sr.s.Push()
	if err := sr.left(d); err == nil {
		if sr.dfs() {
			sr.s.Pop()
			return true
		}
	} else {
		sr.stats.Fails++
	}
	sr.s.Pop()
	sr.stats.Backtracks++

	sr.s.Push()
	defer sr.s.Pop()
	if err := sr.right(d); err != nil {
		sr.stats.Fails++
		return false
	}
	return sr.dfs()
}

func (sr *searcher) left(d Decision) error {
	if d.Op == OpSplit {
		return sr.s.UpdateUB(d.Var, d.Value)
	}
	return sr.s.Assign(d.Var, d.Value)
}

func (sr *searcher) right(d Decision) error {
	if d.Op == OpSplit {
		return sr.s.UpdateLB(d.Var, d.Value+1)
	}
	return sr.s.Remove(d.Var, d.Value)
}

func (sr *searcher) solution() bool {
	o := sr.cfg.Objective
	st := sr.stats
	st.Solutions++
	if o != nil {
		st.HasObjective = true
		st.Best = sr.s.Value(o.Var)
	}
	if sr.cfg.OnSolution != nil {
		st.Elapsed = time.Since(sr.start)
		if !sr.cfg.OnSolution(sr.s, st) {
			sr.stats.Rejected++
			sr.stats.Fails++
			return false
		}
	}
	sr.stats.Solutions = st.Solutions
	sr.stats.HasObjective = st.HasObjective
	sr.stats.Best = st.Best

	if o == nil {
		sr.stopped = true
		return true
	}
	best := st.Best
	next := best - 1
	if o.Maximize {
		next = best + 1
	}
	if o.Alterer != nil {
		altered := o.Alterer(best)
		// An alterer may not relax the bound.
		if o.Maximize && altered > next || !o.Maximize && altered < next {
			next = altered
			sr.altered = true
		}
	}
	sr.bound, sr.bounded = next, true

	if l := sr.cfg.Limits.Solutions; l > 0 && sr.stats.Solutions >= l {
		sr.stopped = true
		return true
	}
	return false
}
