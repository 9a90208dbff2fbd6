package scheduler

import (
	"sort"

	"github.com/limiquantix/planner/internal/csp"
)

// cTask is a consuming slice: the VM occupies host on [0, end).
type cTask struct {
	vm        int
	host      int
	end       csp.Var
	exclusive bool
	link      int
}

// dTask is a demanding slice: the VM occupies host on [start, horizon].
type dTask struct {
	vm        int
	host      csp.Var
	start     csp.Var
	exclusive bool
	link      int
}

type contribution struct {
	from, to int
	use      []int
}

type segment struct {
	from, to int
	load     []int
}

// cumulative ensures that, at every instant, the slices active on a node never
// use more than its capacity in any resource dimension. It also keeps slices
// inside the hosting window of their node and enforces exclusive slices.
// Host variables are only pruned, never assigned.
type cumulative struct {
	cs           []cTask
	ds           []dTask
	dims         []*ResourceMapping
	hostingStart []csp.Var
	hostingEnd   []csp.Var
	horizon      int
	exclusive    bool
	vars         []csp.Var
}

func newCumulative(p *Problem) *cumulative {
	c := &cumulative{horizon: p.params.MaxEnd}
	for _, id := range p.resourceIDs {
		c.dims = append(c.dims, p.resources[id])
	}
	byVM := make(map[int]int)
	for i, t := range p.vmTrans {
		sl := t.CSlice()
		if sl == nil {
			continue
		}
		byVM[i] = len(c.cs)
		c.cs = append(c.cs, cTask{vm: i, host: p.store.Value(sl.Host), end: sl.End, exclusive: sl.Exclusive, link: -1})
		c.vars = append(c.vars, sl.End)
	}
	for i, t := range p.vmTrans {
		sl := t.DSlice()
		if sl == nil {
			continue
		}
		d := dTask{vm: i, host: sl.Host, start: sl.Start, exclusive: sl.Exclusive, link: -1}
		if ci, ok := byVM[i]; ok {
			d.link = ci
			c.cs[ci].link = len(c.ds)
		}
		c.ds = append(c.ds, d)
		c.vars = append(c.vars, sl.Host, sl.Start)
		for _, rm := range c.dims {
			if u, ok := rm.Usage(i); ok {
				c.vars = append(c.vars, u)
			}
		}
	}
	for _, t := range p.nodeTrans {
		c.hostingStart = append(c.hostingStart, t.HostingStart())
		c.hostingEnd = append(c.hostingEnd, t.HostingEnd())
		c.vars = append(c.vars, t.HostingStart(), t.HostingEnd())
	}
	for _, t := range c.cs {
		c.exclusive = c.exclusive || t.exclusive
	}
	for _, t := range c.ds {
		c.exclusive = c.exclusive || t.exclusive
	}
	return c
}

func (c *cumulative) Vars() []csp.Var { return c.vars }

func (c *cumulative) Propagate(s *csp.Store) error {
	if err := c.hostingWindows(s); err != nil {
		return err
	}
	if c.exclusive {
		if err := c.exclusivity(s); err != nil {
			return err
		}
	}
	if len(c.dims) == 0 {
		return nil
	}
	profiles, err := c.profiles(s)
	if err != nil {
		return err
	}
	return c.filter(s, profiles)
}

func (c *cumulative) hostingWindows(s *csp.Store) error {
	for _, t := range c.cs {
		he := c.hostingEnd[t.host]
		if err := s.UpdateUB(t.end, s.Max(he)); err != nil {
			return err
		}
		if err := s.UpdateLB(he, s.Min(t.end)); err != nil {
			return err
		}
	}
	for _, t := range c.ds {
		if s.IsFixed(t.host) {
			h := s.Value(t.host)
			if err := s.UpdateLB(t.start, s.Min(c.hostingStart[h])); err != nil {
				return err
			}
			if err := s.UpdateUB(c.hostingStart[h], s.Max(t.start)); err != nil {
				return err
			}
			if err := s.UpdateLB(c.hostingEnd[h], c.horizon); err != nil {
				return err
			}
			continue
		}
		err := s.Restrict(t.host, func(n int) bool {
			return s.Min(c.hostingStart[n]) <= s.Max(t.start) && s.Max(c.hostingEnd[n]) >= c.horizon
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *cumulative) exclusivity(s *csp.Store) error {
	for di, d := range c.ds {
		if !d.exclusive {
			continue
		}
		if !s.IsFixed(d.host) {
			err := s.Restrict(d.host, func(n int) bool {
				for dj, o := range c.ds {
					if dj != di && s.IsFixed(o.host) && s.Value(o.host) == n {
						return false
					}
				}
				for _, o := range c.cs {
					if o.host == n && o.vm != d.vm && s.Min(o.end) > s.Max(d.start) {
						return false
					}
				}
				return true
			})
			if err != nil {
				return err
			}
			continue
		}
		h := s.Value(d.host)
		for dj, o := range c.ds {
			if dj == di {
				continue
			}
			if s.IsFixed(o.host) {
				if s.Value(o.host) == h {
					return csp.ErrContradiction
				}
			} else if err := s.Remove(o.host, h); err != nil {
				return err
			}
		}
		for _, o := range c.cs {
			if o.host == h && o.vm != d.vm {
				if err := before(s, o.end, d.start); err != nil {
					return err
				}
			}
		}
	}
	for _, t := range c.cs {
		if !t.exclusive {
			continue
		}
		for _, o := range c.ds {
			if o.vm == t.vm {
				continue
			}
			if s.IsFixed(o.host) {
				if s.Value(o.host) == t.host {
					if err := before(s, t.end, o.start); err != nil {
						return err
					}
				}
			} else if s.Contains(o.host, t.host) && s.Min(t.end) > s.Max(o.start) {
				if err := s.Remove(o.host, t.host); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// before enforces end <= start.
func before(s *csp.Store, end, start csp.Var) error {
	if err := s.UpdateLB(start, s.Min(end)); err != nil {
		return err
	}
	return s.UpdateUB(end, s.Max(start))
}

// staying reports whether a consuming slice and its demanding slice share a host.
func (c *cumulative) staying(s *csp.Store, t cTask) bool {
	if t.link < 0 {
		return false
	}
	h := c.ds[t.link].host
	return s.IsFixed(h) && s.Value(h) == t.host
}

func (c *cumulative) cUse(t cTask) []int {
	u := make([]int, len(c.dims))
	for k, rm := range c.dims {
		u[k] = rm.Consumption(t.vm)
	}
	return u
}

func (c *cumulative) dUse(s *csp.Store, t dTask) []int {
	u := make([]int, len(c.dims))
	for k, rm := range c.dims {
		if v, ok := rm.Usage(t.vm); ok {
			u[k] = s.Min(v)
		}
	}
	return u
}

// profiles computes, per node, the resources used for sure over time.
func (c *cumulative) profiles(s *csp.Store) ([][]segment, error) {
	contribs := make([][]contribution, len(c.hostingEnd))
	add := func(n, from, to int, use []int) {
		if from > to {
			return
		}
		for _, u := range use {
			if u > 0 {
				contribs[n] = append(contribs[n], contribution{from: from, to: to, use: use})
				return
			}
		}
	}
	for _, t := range c.cs {
		cu := c.cUse(t)
		if !c.staying(s, t) {
			add(t.host, 0, s.Min(t.end)-1, cu)
			continue
		}
		// A staying VM holds the smallest of its two usages all along, and the
		// difference before its consuming slice ends or after its demanding one starts.
		d := c.ds[t.link]
		du := c.dUse(s, d)
		common := make([]int, len(cu))
		extraC := make([]int, len(cu))
		extraD := make([]int, len(cu))
		for k := range cu {
			common[k] = min(cu[k], du[k])
			extraC[k] = max(cu[k]-du[k], 0)
			extraD[k] = max(du[k]-cu[k], 0)
		}
		add(t.host, 0, c.horizon, common)
		add(t.host, 0, s.Min(t.end)-1, extraC)
		add(t.host, s.Max(d.start), c.horizon, extraD)
	}
	for _, t := range c.ds {
		if !s.IsFixed(t.host) || (t.link >= 0 && c.staying(s, c.cs[t.link])) {
			continue
		}
		add(s.Value(t.host), s.Max(t.start), c.horizon, c.dUse(s, t))
	}

	res := make([][]segment, len(contribs))
	for n, list := range contribs {
		res[n] = c.sweep(list)
		for _, seg := range res[n] {
			if c.exceeds(n, seg.load, nil, nil) {
				return nil, csp.ErrContradiction
			}
		}
	}
	return res, nil
}

func (c *cumulative) sweep(list []contribution) []segment {
	times := []int{0}
	for _, ct := range list {
		times = append(times, ct.from)
		if ct.to < c.horizon {
			times = append(times, ct.to+1)
		}
	}
	sort.Ints(times)
	var segs []segment
	for i, t := range times {
		if i > 0 && t == times[i-1] {
			continue
		}
		if len(segs) > 0 {
			segs[len(segs)-1].to = t - 1
		}
		load := make([]int, len(c.dims))
		for _, ct := range list {
			if ct.from <= t && t <= ct.to {
				for k, u := range ct.use {
					load[k] += u
				}
			}
		}
		segs = append(segs, segment{from: t, to: c.horizon, load: load})
	}
	return segs
}

// exceeds reports whether load + plus - minus overflows a capacity of node n.
func (c *cumulative) exceeds(n int, load, plus, minus []int) bool {
	for k, rm := range c.dims {
		v := load[k]
		if plus != nil {
			v += plus[k]
		}
		if minus != nil {
			v -= minus[k]
		}
		if v > rm.Capacity(n) {
			return true
		}
	}
	return false
}

func (c *cumulative) filter(s *csp.Store, profiles [][]segment) error {
	for _, t := range c.cs {
		if c.staying(s, t) {
			continue
		}
		// The consuming slice must end before the first overflow it would cause.
		cu := c.cUse(t)
		lb := s.Min(t.end)
		for _, seg := range profiles[t.host] {
			if seg.to < lb {
				continue
			}
			if c.exceeds(t.host, seg.load, cu, nil) {
				if err := s.UpdateUB(t.end, max(seg.from, lb)); err != nil {
					return err
				}
				break
			}
		}
	}
	for _, t := range c.ds {
		du := c.dUse(s, t)
		if s.IsFixed(t.host) {
			if t.link >= 0 && c.staying(s, c.cs[t.link]) {
				continue
			}
			// The demanding slice must start after the last overflow it would cause.
			h, ub := s.Value(t.host), s.Max(t.start)
			last := -1
			for _, seg := range profiles[h] {
				if seg.from < ub && c.exceeds(h, seg.load, du, nil) {
					last = max(last, min(seg.to, ub-1))
				}
			}
			if last >= 0 {
				if err := s.UpdateLB(t.start, last+1); err != nil {
					return err
				}
			}
			continue
		}
		err := s.Restrict(t.host, func(n int) bool {
			return !c.overflows(s, t, n, du, profiles[n])
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// overflows reports whether placing the demanding slice t on n would exceed
// the capacity of n at some instant after its latest start.
func (c *cumulative) overflows(s *csp.Store, t dTask, n int, du []int, profile []segment) bool {
	from := s.Max(t.start)
	ownEnd := -1
	var cu []int
	if t.link >= 0 && c.cs[t.link].host == n {
		// Staying on its current host, the VM stops being charged its
		// consuming usage once it switches to the demanding one.
		ownEnd = s.Min(c.cs[t.link].end) - 1
		cu = c.cUse(c.cs[t.link])
	}
	for _, seg := range profile {
		if seg.to < from {
			continue
		}
		a := max(seg.from, from)
		if a <= min(seg.to, ownEnd) && c.exceeds(n, seg.load, du, cu) {
			return true
		}
		if max(a, ownEnd+1) <= seg.to && c.exceeds(n, seg.load, du, nil) {
			return true
		}
	}
	return false
}
