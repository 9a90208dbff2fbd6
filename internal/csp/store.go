// Package csp is a small finite-domain constraint engine: integer variables addressed
// by handles, propagators run to a fixpoint, and a trail restoring domains on backtrack.
package csp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrContradiction is returned when a domain becomes empty.
var ErrContradiction = errors.New("contradiction")

// Var is a handle on a variable of a Store.
type Var int

// domain is either an interval [lb, ub] or, when bits is set, the subset of
// [lb, ub] whose offsets from base are set in bits.
type domain struct {
	lb, ub int
	size   int
	base   int
	bits   []uint64
}

func (d *domain) contains(v int) bool {
	if v < d.lb || v > d.ub {
		return false
	}
	if d.bits == nil {
		return true
	}
	o := v - d.base
	return d.bits[o>>6]&(1<<(uint(o)&63)) != 0
}

func (d *domain) next(v int) int {
	for x := v + 1; x <= d.ub; x++ {
		if d.contains(x) {
			return x
		}
	}
	return d.ub + 1
}

func (d *domain) prev(v int) int {
	for x := v - 1; x >= d.lb; x-- {
		if d.contains(x) {
			return x
		}
	}
	return d.lb - 1
}

type trailEntry struct {
	v   Var
	old domain
}

// Store owns variables and propagators. It is not safe for concurrent use.
type Store struct {
	doms  []domain
	names []string
	saved []int

	props  []Propagator
	watch  [][]int
	queue  []int
	queued []bool

	trail    []trailEntry
	marks    []int
	stamps   []int
	stamp    int
	stampSeq int

	consts map[int]Var
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{consts: make(map[int]Var)}
}

func (s *Store) newVar(name string, d domain) Var {
	s.doms = append(s.doms, d)
	s.names = append(s.names, name)
	s.saved = append(s.saved, -1)
	s.watch = append(s.watch, nil)
	return Var(len(s.doms) - 1)
}

// IntVar creates a variable over the interval [lb, ub].
func (s *Store) IntVar(name string, lb, ub int) Var {
	if lb > ub {
		panic(fmt.Sprintf("csp: empty interval for %s: [%d, %d]", name, lb, ub))
	}
	return s.newVar(name, domain{lb: lb, ub: ub, size: ub - lb + 1})
}

// EnumVar creates a variable over an explicit set of values.
func (s *Store) EnumVar(name string, values []int) Var {
	if len(values) == 0 {
		panic(fmt.Sprintf("csp: empty domain for %s", name))
	}
	lb, ub := values[0], values[0]
	for _, v := range values {
		lb = min(lb, v)
		ub = max(ub, v)
	}
	d := domain{lb: lb, ub: ub, base: lb, bits: make([]uint64, (ub-lb)/64+1)}
	for _, v := range values {
		o := v - lb
		if d.bits[o>>6]&(1<<(uint(o)&63)) == 0 {
			d.bits[o>>6] |= 1 << (uint(o) & 63)
			d.size++
		}
	}
	return s.newVar(name, d)
}

// BoolVar creates a 0/1 variable.
func (s *Store) BoolVar(name string) Var {
	return s.IntVar(name, 0, 1)
}

// Const returns a fixed variable holding v. Constants are shared.
func (s *Store) Const(v int) Var {
	if c, ok := s.consts[v]; ok {
		return c
	}
	c := s.IntVar(fmt.Sprintf("cst(%d)", v), v, v)
	s.consts[v] = c
	return c
}

// NumVars returns the number of variables.
func (s *Store) NumVars() int { return len(s.doms) }

// Name returns the label of v.
func (s *Store) Name(v Var) string { return s.names[v] }

// Min returns the lower bound of v.
func (s *Store) Min(v Var) int { return s.doms[v].lb }

// Max returns the upper bound of v.
func (s *Store) Max(v Var) int { return s.doms[v].ub }

// Size returns the number of values of v.
func (s *Store) Size(v Var) int { return s.doms[v].size }

// Contains reports whether x belongs to the domain of v.
func (s *Store) Contains(v Var, x int) bool { return s.doms[v].contains(x) }

// IsFixed reports whether v has a single value.
func (s *Store) IsFixed(v Var) bool { return s.doms[v].size == 1 }

// Value returns the value of a fixed variable, the lower bound otherwise.
func (s *Store) Value(v Var) int { return s.doms[v].lb }

// Values returns the values of v in increasing order.
func (s *Store) Values(v Var) []int {
	d := &s.doms[v]
	res := make([]int, 0, d.size)
	for x := d.lb; x <= d.ub; x = d.next(x) {
		res = append(res, x)
	}
	return res
}

// NextValue returns the smallest value of v greater than x, or Max(v)+1.
func (s *Store) NextValue(v Var, x int) int {
	d := &s.doms[v]
	if x < d.lb {
		return d.lb
	}
	return d.next(x)
}

// String renders the domain of v.
func (s *Store) String(v Var) string {
	d := &s.doms[v]
	if d.size == 1 {
		return fmt.Sprintf("%s=%d", s.names[v], d.lb)
	}
	if d.bits == nil {
		return fmt.Sprintf("%s=[%d,%d]", s.names[v], d.lb, d.ub)
	}
	var b strings.Builder
	for i, x := range s.Values(v) {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", x)
	}
	return fmt.Sprintf("%s={%s}", s.names[v], b.String())
}

// save records the current domain of v once per search level.
func (s *Store) save(v Var) {
	if s.saved[v] == s.stamp {
		return
	}
	s.saved[v] = s.stamp
	old := s.doms[v]
	s.trail = append(s.trail, trailEntry{v: v, old: old})
	if old.bits != nil {
		s.doms[v].bits = append([]uint64(nil), old.bits...)
	}
}

func (s *Store) changed(v Var) error {
	if s.doms[v].size == 0 {
		return ErrContradiction
	}
	for _, p := range s.watch[v] {
		if !s.queued[p] {
			s.queued[p] = true
			s.queue = append(s.queue, p)
		}
	}
	return nil
}

// UpdateLB removes every value lower than x from v.
func (s *Store) UpdateLB(v Var, x int) error {
	d := &s.doms[v]
	if x <= d.lb {
		return nil
	}
	if x > d.ub {
		return ErrContradiction
	}
	s.save(v)
	d = &s.doms[v]
	if d.bits == nil {
		d.size -= x - d.lb
		d.lb = x
	} else {
		for y := d.lb; y < x; y++ {
			if d.contains(y) {
				d.size--
			}
		}
		d.lb = x
		if !d.contains(x) {
			d.lb = d.next(x)
		}
	}
	return s.changed(v)
}

// UpdateUB removes every value greater than x from v.
func (s *Store) UpdateUB(v Var, x int) error {
	d := &s.doms[v]
	if x >= d.ub {
		return nil
	}
	if x < d.lb {
		return ErrContradiction
	}
	s.save(v)
	d = &s.doms[v]
	if d.bits == nil {
		d.size -= d.ub - x
		d.ub = x
	} else {
		for y := d.ub; y > x; y-- {
			if d.contains(y) {
				d.size--
			}
		}
		d.ub = x
		if !d.contains(x) {
			d.ub = d.prev(x)
		}
	}
	return s.changed(v)
}

// Assign fixes v to x.
func (s *Store) Assign(v Var, x int) error {
	d := &s.doms[v]
	if !d.contains(x) {
		return ErrContradiction
	}
	if d.size == 1 {
		return nil
	}
	s.save(v)
	d = &s.doms[v]
	d.lb, d.ub, d.size = x, x, 1
	return s.changed(v)
}

// Remove deletes x from the domain of v.
func (s *Store) Remove(v Var, x int) error {
	d := &s.doms[v]
	if !d.contains(x) {
		return nil
	}
	if x == d.lb {
		return s.UpdateLB(v, x+1)
	}
	if x == d.ub {
		return s.UpdateUB(v, x-1)
	}
	s.save(v)
	d = &s.doms[v]
	if d.bits == nil {
		d.base = d.lb
		n := d.ub - d.lb + 1
		d.bits = make([]uint64, (n+63)/64)
		for i := 0; i < n; i++ {
			d.bits[i>>6] |= 1 << (uint(i) & 63)
		}
	}
	o := x - d.base
	d.bits[o>>6] &^= 1 << (uint(o) & 63)
	d.size--
	return s.changed(v)
}

// Restrict keeps only the values of v accepted by keep.
func (s *Store) Restrict(v Var, keep func(int) bool) error {
	for _, x := range s.Values(v) {
		if !keep(x) {
			if err := s.Remove(v, x); err != nil {
				return err
			}
		}
	}
	return nil
}

// Post registers a propagator and schedules it.
func (s *Store) Post(p Propagator) {
	id := len(s.props)
	s.props = append(s.props, p)
	s.queued = append(s.queued, false)
	for _, v := range p.Vars() {
		w := s.watch[v]
		if len(w) == 0 || w[len(w)-1] != id {
			s.watch[v] = append(w, id)
		}
	}
	s.schedule(id)
}

func (s *Store) schedule(id int) {
	if !s.queued[id] {
		s.queued[id] = true
		s.queue = append(s.queue, id)
	}
}

// NumPropagators returns the number of posted propagators.
func (s *Store) NumPropagators() int { return len(s.props) }

// Propagate runs the scheduled propagators until a fixpoint is reached.
// On contradiction the queue is flushed and ErrContradiction is returned.
func (s *Store) Propagate() error {
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		s.queued[id] = false
		if err := s.props[id].Propagate(s); err != nil {
			s.flush()
			return err
		}
	}
	return nil
}

// ScheduleAll queues every propagator.
func (s *Store) ScheduleAll() {
	for id := range s.props {
		s.schedule(id)
	}
}

func (s *Store) flush() {
	for _, id := range s.queue {
		s.queued[id] = false
	}
	s.queue = s.queue[:0]
}

// Push opens a new search level.
func (s *Store) Push() {
	s.marks = append(s.marks, len(s.trail))
	s.stamps = append(s.stamps, s.stamp)
	s.stamp = s.nextStamp()
}

func (s *Store) nextStamp() int {
	s.stampSeq++
	return s.stampSeq
}

// Pop restores the domains saved since the matching Push.
func (s *Store) Pop() {
	n := len(s.marks) - 1
	mark := s.marks[n]
	for i := len(s.trail) - 1; i >= mark; i-- {
		e := s.trail[i]
		s.doms[e.v] = e.old
		s.saved[e.v] = -1
	}
	s.trail = s.trail[:mark]
	s.marks = s.marks[:n]
	s.stamp = s.stamps[n]
	s.stamps = s.stamps[:n]
	s.flush()
}

// Level returns the number of open search levels.
func (s *Store) Level() int { return len(s.marks) }
