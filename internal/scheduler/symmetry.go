package scheduler

import (
	"github.com/limiquantix/planner/internal/csp"
)

// stayingSymmetry settles the moment of a VM that keeps its host once its
// usages are known. When no usage exceeds the current consumption the
// consuming slice ends at once, when every usage exceeds it the demanding
// slice starts at the end of the plan. Mixed cases are left to the search.
type stayingSymmetry struct {
	stay       csp.Var
	usages     []csp.Var
	cons       []int
	cDur, dDur csp.Var
}

func (c *stayingSymmetry) Vars() []csp.Var {
	return append([]csp.Var{c.stay}, c.usages...)
}

func (c *stayingSymmetry) Propagate(s *csp.Store) error {
	if !s.IsFixed(c.stay) || s.Value(c.stay) != 1 {
		return nil
	}
	decreasing, increasing := true, true
	for i, u := range c.usages {
		if !s.IsFixed(u) {
			return nil
		}
		if s.Value(u) > c.cons[i] {
			decreasing = false
		} else {
			increasing = false
		}
	}
	switch {
	case decreasing:
		return s.UpdateUB(c.cDur, 0)
	case increasing:
		return s.UpdateUB(c.dDur, 0)
	}
	return nil
}

// breakStayingSymmetries posts a stayingSymmetry for every running VM that
// may keep its host.
func (p *Problem) breakStayingSymmetries() {
	if len(p.resourceIDs) == 0 {
		return
	}
	for i, t := range p.vmTrans {
		r, ok := t.(*relocatable)
		if !ok {
			continue
		}
		sym := &stayingSymmetry{stay: r.stay, cDur: r.cSlice.Duration, dDur: r.dSlice.Duration}
		for _, id := range p.resourceIDs {
			rm := p.resources[id]
			u, ok := rm.Usage(i)
			if !ok {
				continue
			}
			sym.usages = append(sym.usages, u)
			sym.cons = append(sym.cons, rm.Consumption(i))
		}
		p.store.Post(sym)
	}
}
