package csp

// Propagator filters the domains of its variables. Propagate must be monotonic,
// and must fail with ErrContradiction when its variables are all fixed to values
// violating the relation it models.
type Propagator interface {
	// Vars returns the variables the propagator reacts to.
	Vars() []Var
	// Propagate narrows domains. It is re-run whenever a watched variable changes.
	Propagate(s *Store) error
}

type leq struct {
	x, y Var
	c    int
}

// Leq models x + c <= y.
func Leq(x Var, c int, y Var) Propagator { return &leq{x: x, y: y, c: c} }

func (p *leq) Vars() []Var { return []Var{p.x, p.y} }

func (p *leq) Propagate(s *Store) error {
	if err := s.UpdateLB(p.y, s.Min(p.x)+p.c); err != nil {
		return err
	}
	return s.UpdateUB(p.x, s.Max(p.y)-p.c)
}

type plus struct{ x, d, y Var }

// Plus models x + d = y.
func Plus(x, d, y Var) Propagator { return &plus{x: x, d: d, y: y} }

func (p *plus) Vars() []Var { return []Var{p.x, p.d, p.y} }

func (p *plus) Propagate(s *Store) error {
	for i := 0; i < 2; i++ {
		if err := s.UpdateLB(p.y, s.Min(p.x)+s.Min(p.d)); err != nil {
			return err
		}
		if err := s.UpdateUB(p.y, s.Max(p.x)+s.Max(p.d)); err != nil {
			return err
		}
		if err := s.UpdateLB(p.x, s.Min(p.y)-s.Max(p.d)); err != nil {
			return err
		}
		if err := s.UpdateUB(p.x, s.Max(p.y)-s.Min(p.d)); err != nil {
			return err
		}
		if err := s.UpdateLB(p.d, s.Min(p.y)-s.Max(p.x)); err != nil {
			return err
		}
		if err := s.UpdateUB(p.d, s.Max(p.y)-s.Min(p.x)); err != nil {
			return err
		}
	}
	return nil
}

type eqReif struct {
	b, x Var
	c    int
}

// EqReif models b <=> (x = c) with b a 0/1 variable.
func EqReif(b, x Var, c int) Propagator { return &eqReif{b: b, x: x, c: c} }

func (p *eqReif) Vars() []Var { return []Var{p.b, p.x} }

func (p *eqReif) Propagate(s *Store) error {
	if s.IsFixed(p.b) {
		if s.Value(p.b) == 1 {
			return s.Assign(p.x, p.c)
		}
		return s.Remove(p.x, p.c)
	}
	if !s.Contains(p.x, p.c) {
		return s.Assign(p.b, 0)
	}
	if s.IsFixed(p.x) {
		return s.Assign(p.b, 1)
	}
	return nil
}

type gtReif struct {
	b, x Var
	c    int
}

// GtReif models b <=> (x > c) with b a 0/1 variable.
func GtReif(b, x Var, c int) Propagator { return &gtReif{b: b, x: x, c: c} }

func (p *gtReif) Vars() []Var { return []Var{p.b, p.x} }

func (p *gtReif) Propagate(s *Store) error {
	switch {
	case s.Min(p.x) > p.c:
		return s.Assign(p.b, 1)
	case s.Max(p.x) <= p.c:
		return s.Assign(p.b, 0)
	}
	if s.IsFixed(p.b) {
		if s.Value(p.b) == 1 {
			return s.UpdateLB(p.x, p.c+1)
		}
		return s.UpdateUB(p.x, p.c)
	}
	return nil
}

type implies struct {
	b, x   Var
	bv     int
	lo, hi int
}

// Implies models (b = bv) => lo <= x <= hi.
func Implies(b Var, bv int, x Var, lo, hi int) Propagator {
	return &implies{b: b, bv: bv, x: x, lo: lo, hi: hi}
}

func (p *implies) Vars() []Var { return []Var{p.b, p.x} }

func (p *implies) Propagate(s *Store) error {
	if s.IsFixed(p.b) && s.Value(p.b) == p.bv {
		if err := s.UpdateLB(p.x, p.lo); err != nil {
			return err
		}
		return s.UpdateUB(p.x, p.hi)
	}
	if s.Max(p.x) < p.lo || s.Min(p.x) > p.hi {
		return s.Remove(p.b, p.bv)
	}
	return nil
}

type ifEqThenLeq struct {
	sel, x, y Var
	val, c    int
}

// IfEqThenLeq models (sel = val) => x + c <= y.
func IfEqThenLeq(sel Var, val int, x Var, c int, y Var) Propagator {
	return &ifEqThenLeq{sel: sel, val: val, x: x, c: c, y: y}
}

func (p *ifEqThenLeq) Vars() []Var { return []Var{p.sel, p.x, p.y} }

func (p *ifEqThenLeq) Propagate(s *Store) error {
	if !s.Contains(p.sel, p.val) {
		return nil
	}
	if s.IsFixed(p.sel) {
		if err := s.UpdateLB(p.y, s.Min(p.x)+p.c); err != nil {
			return err
		}
		return s.UpdateUB(p.x, s.Max(p.y)-p.c)
	}
	if s.Min(p.x)+p.c > s.Max(p.y) {
		return s.Remove(p.sel, p.val)
	}
	return nil
}

type notEqual struct{ x, y Var }

// NotEqual models x != y.
func NotEqual(x, y Var) Propagator { return &notEqual{x: x, y: y} }

func (p *notEqual) Vars() []Var { return []Var{p.x, p.y} }

func (p *notEqual) Propagate(s *Store) error {
	if s.IsFixed(p.x) {
		if err := s.Remove(p.y, s.Value(p.x)); err != nil {
			return err
		}
	}
	if s.IsFixed(p.y) {
		return s.Remove(p.x, s.Value(p.y))
	}
	return nil
}

type element struct {
	index, value Var
	table        []Var
}

// Element models value = table[index].
func Element(index Var, table []Var, value Var) Propagator {
	return &element{index: index, table: table, value: value}
}

func (p *element) Vars() []Var {
	return append([]Var{p.index, p.value}, p.table...)
}

func (p *element) Propagate(s *Store) error {
	if err := s.UpdateLB(p.index, 0); err != nil {
		return err
	}
	if err := s.UpdateUB(p.index, len(p.table)-1); err != nil {
		return err
	}
	lo, hi := s.Max(p.value)+1, s.Min(p.value)-1
	for _, i := range s.Values(p.index) {
		t := p.table[i]
		if s.Max(t) < s.Min(p.value) || s.Min(t) > s.Max(p.value) {
			if err := s.Remove(p.index, i); err != nil {
				return err
			}
			continue
		}
		lo = min(lo, s.Min(t))
		hi = max(hi, s.Max(t))
	}
	if err := s.UpdateLB(p.value, lo); err != nil {
		return err
	}
	if err := s.UpdateUB(p.value, hi); err != nil {
		return err
	}
	if s.IsFixed(p.index) {
		t := p.table[s.Value(p.index)]
		if err := s.UpdateLB(t, s.Min(p.value)); err != nil {
			return err
		}
		return s.UpdateUB(t, s.Max(p.value))
	}
	return nil
}

type elementConst struct {
	index, value Var
	table        []int
}

// ElementConst models value = table[index] over a constant table.
func ElementConst(index Var, table []int, value Var) Propagator {
	return &elementConst{index: index, table: table, value: value}
}

func (p *elementConst) Vars() []Var { return []Var{p.index, p.value} }

func (p *elementConst) Propagate(s *Store) error {
	if err := s.UpdateLB(p.index, 0); err != nil {
		return err
	}
	if err := s.UpdateUB(p.index, len(p.table)-1); err != nil {
		return err
	}
	if err := s.Restrict(p.index, func(i int) bool { return s.Contains(p.value, p.table[i]) }); err != nil {
		return err
	}
	reached := make(map[int]bool)
	for _, i := range s.Values(p.index) {
		reached[p.table[i]] = true
	}
	return s.Restrict(p.value, func(v int) bool { return reached[v] })
}

type allDifferent struct{ vars []Var }

// AllDifferent forbids two variables from sharing a value.
func AllDifferent(vars []Var) Propagator { return &allDifferent{vars: vars} }

func (p *allDifferent) Vars() []Var { return p.vars }

func (p *allDifferent) Propagate(s *Store) error {
	taken := make(map[int]int)
	for i, v := range p.vars {
		if !s.IsFixed(v) {
			continue
		}
		x := s.Value(v)
		if _, dup := taken[x]; dup {
			return ErrContradiction
		}
		taken[x] = i
	}
	union := make(map[int]struct{})
	for i, v := range p.vars {
		if !s.IsFixed(v) {
			for x, owner := range taken {
				if owner != i {
					if err := s.Remove(v, x); err != nil {
						return err
					}
				}
			}
		}
		for _, x := range s.Values(v) {
			union[x] = struct{}{}
		}
	}
	if len(union) < len(p.vars) {
		return ErrContradiction
	}
	return nil
}

type allEqual struct{ vars []Var }

// AllEqual forces every variable to the same value.
func AllEqual(vars []Var) Propagator { return &allEqual{vars: vars} }

func (p *allEqual) Vars() []Var { return p.vars }

func (p *allEqual) Propagate(s *Store) error {
	if len(p.vars) < 2 {
		return nil
	}
	common := make(map[int]int)
	for _, v := range p.vars {
		for _, x := range s.Values(v) {
			common[x]++
		}
	}
	for _, v := range p.vars {
		if err := s.Restrict(v, func(x int) bool { return common[x] == len(p.vars) }); err != nil {
			return err
		}
	}
	return nil
}

type disjoint struct {
	groups [][]Var
	all    []Var
}

// Disjoint forbids a value taken by a variable of one group to be taken by a
// variable of another group.
func Disjoint(groups [][]Var) Propagator {
	p := &disjoint{groups: groups}
	for _, g := range groups {
		p.all = append(p.all, g...)
	}
	return p
}

func (p *disjoint) Vars() []Var { return p.all }

func (p *disjoint) Propagate(s *Store) error {
	owner := make(map[int]int)
	for gi, g := range p.groups {
		for _, v := range g {
			if !s.IsFixed(v) {
				continue
			}
			x := s.Value(v)
			if o, ok := owner[x]; ok && o != gi {
				return ErrContradiction
			}
			owner[x] = gi
		}
	}
	for gi, g := range p.groups {
		for _, v := range g {
			if s.IsFixed(v) {
				continue
			}
			if err := s.Restrict(v, func(x int) bool {
				o, ok := owner[x]
				return !ok || o == gi
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

type cardinality struct {
	vars   []Var
	counts []Var
}

// Cardinality models counts[k] = |{i : vars[i] = k}|. Values outside the
// range of counts are not counted.
func Cardinality(vars []Var, counts []Var) Propagator {
	return &cardinality{vars: vars, counts: counts}
}

func (p *cardinality) Vars() []Var { return append(append([]Var(nil), p.vars...), p.counts...) }

func (p *cardinality) Propagate(s *Store) error {
	fixed := make([]int, len(p.counts))
	possible := make([]int, len(p.counts))
	for _, v := range p.vars {
		for _, x := range s.Values(v) {
			if x < 0 || x >= len(p.counts) {
				continue
			}
			possible[x]++
			if s.IsFixed(v) {
				fixed[x]++
			}
		}
	}
	for k, c := range p.counts {
		if err := s.UpdateLB(c, fixed[k]); err != nil {
			return err
		}
		if err := s.UpdateUB(c, possible[k]); err != nil {
			return err
		}
	}
	for k, c := range p.counts {
		if fixed[k] == possible[k] {
			continue
		}
		switch {
		case s.Max(c) == fixed[k]:
			for _, v := range p.vars {
				if !s.IsFixed(v) {
					if err := s.Remove(v, k); err != nil {
						return err
					}
				}
			}
		case s.Min(c) == possible[k]:
			for _, v := range p.vars {
				if s.Contains(v, k) {
					if err := s.Assign(v, k); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

type sum struct {
	vars []Var
	res  Var
}

// Sum models res = sum(vars).
func Sum(vars []Var, res Var) Propagator { return &sum{vars: vars, res: res} }

func (p *sum) Vars() []Var { return append([]Var{p.res}, p.vars...) }

func (p *sum) Propagate(s *Store) error {
	lo, hi := 0, 0
	for _, v := range p.vars {
		lo += s.Min(v)
		hi += s.Max(v)
	}
	if err := s.UpdateLB(p.res, lo); err != nil {
		return err
	}
	if err := s.UpdateUB(p.res, hi); err != nil {
		return err
	}
	for _, v := range p.vars {
		// Bounds of v given the others.
		restLo := lo - s.Min(v)
		restHi := hi - s.Max(v)
		if err := s.UpdateLB(v, s.Min(p.res)-restHi); err != nil {
			return err
		}
		if err := s.UpdateUB(v, s.Max(p.res)-restLo); err != nil {
			return err
		}
	}
	return nil
}

type maximum struct {
	vars []Var
	res  Var
}

// Maximum models res = max(vars).
func Maximum(vars []Var, res Var) Propagator { return &maximum{vars: vars, res: res} }

func (p *maximum) Vars() []Var { return append([]Var{p.res}, p.vars...) }

func (p *maximum) Propagate(s *Store) error {
	lo, hi := s.Min(p.vars[0]), s.Max(p.vars[0])
	for _, v := range p.vars[1:] {
		lo = max(lo, s.Min(v))
		hi = max(hi, s.Max(v))
	}
	if err := s.UpdateLB(p.res, lo); err != nil {
		return err
	}
	if err := s.UpdateUB(p.res, hi); err != nil {
		return err
	}
	var support []Var
	for _, v := range p.vars {
		if err := s.UpdateUB(v, s.Max(p.res)); err != nil {
			return err
		}
		if s.Max(v) >= s.Min(p.res) {
			support = append(support, v)
		}
	}
	if len(support) == 0 {
		return ErrContradiction
	}
	if len(support) == 1 {
		return s.UpdateLB(support[0], s.Min(p.res))
	}
	return nil
}
