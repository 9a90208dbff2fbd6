package scheduler

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
)

// NotFound is the index returned for entities unknown to a problem.
const NotFound = -1

// Problem is a reconfiguration problem ready to be solved. It owns its
// variable store and must not be shared between goroutines.
type Problem struct {
	src    *model.Model
	params Parameters
	logger *zap.Logger
	store  *csp.Store

	vms     []model.VM
	nodes   []model.Node
	vmIdx   map[model.VM]int
	nodeIdx map[model.Node]int

	nextState map[model.VM]model.VMState
	managed   map[model.VM]bool

	start csp.Var
	end   csp.Var

	vmTrans   []VMTransition
	nodeTrans []NodeTransition
	nbRunning []csp.Var

	resources   map[string]*ResourceMapping
	resourceIDs []string
	sched       *cumulative

	objective    csp.Var
	hasObjective bool
	maximize     bool
	heuristics   []csp.Selector

	// infeasible is set when a contradiction is met while building.
	infeasible bool

	stats SolvingStatistics
}

// ProblemBuilder assembles a Problem.
type ProblemBuilder struct {
	src         *model.Model
	buckets     map[model.VMState][]model.VM
	manageable  []model.VM
	manageSet   bool
	fixedNodes  []model.Node
	constraints []Constraint
	objective   Objective
	params      Parameters
	logger      *zap.Logger
}

// NewProblemBuilder starts the definition of a problem over a source model.
// Unless NextStates is called, every VM is requested in its current state.
func NewProblemBuilder(src *model.Model) *ProblemBuilder {
	return &ProblemBuilder{
		src:    src,
		params: DefaultParameters(),
		logger: zap.NewNop(),
	}
}

// NextStates sets the state every VM must reach. VMs to forge go in ready.
func (b *ProblemBuilder) NextStates(ready, running, sleeping, killed []model.VM) *ProblemBuilder {
	b.buckets = map[model.VMState][]model.VM{
		model.VMStateReady:    ready,
		model.VMStateRunning:  running,
		model.VMStateSleeping: sleeping,
		model.VMStateKilled:   killed,
	}
	return b
}

// Manageable restricts the VMs the solver may move. Defaults to all.
func (b *ProblemBuilder) Manageable(vms []model.VM) *ProblemBuilder {
	b.manageable = vms
	b.manageSet = true
	return b
}

// FixedNodes pins the state of some nodes.
func (b *ProblemBuilder) FixedNodes(nodes []model.Node) *ProblemBuilder {
	b.fixedNodes = nodes
	return b
}

// Constraints sets the constraints injected, in order, once the core problem is built.
func (b *ProblemBuilder) Constraints(cs ...Constraint) *ProblemBuilder {
	b.constraints = cs
	return b
}

// Objective sets the optimization objective.
func (b *ProblemBuilder) Objective(o Objective) *ProblemBuilder {
	b.objective = o
	return b
}

// Params sets the solving parameters.
func (b *ProblemBuilder) Params(p Parameters) *ProblemBuilder {
	b.params = p
	return b
}

// Logger sets the logger.
func (b *ProblemBuilder) Logger(l *zap.Logger) *ProblemBuilder {
	b.logger = l
	return b
}

// Build validates the inputs, creates the transitions, the resource mappings and
// the resource scheduler, then injects the constraints and the objective.
func (b *ProblemBuilder) Build() (*Problem, error) {
	began := time.Now()
	p := &Problem{
		src:       b.src,
		params:    b.params.withDefaults(),
		logger:    b.logger.With(zap.String("component", "problem")),
		store:     csp.NewStore(),
		vmIdx:     make(map[model.VM]int),
		nodeIdx:   make(map[model.Node]int),
		nextState: make(map[model.VM]model.VMState),
		managed:   make(map[model.VM]bool),
		resources: make(map[string]*ResourceMapping),
	}
	if err := p.index(b); err != nil {
		return nil, err
	}
	if err := validateConstraints(b.src, b.constraints); err != nil {
		return nil, err
	}

	p.start = p.store.Const(0)
	p.end = p.store.IntVar("RP.end", 0, p.params.MaxEnd)
	if err := p.makeNodeTransitions(b.fixedNodes); err != nil {
		return nil, err
	}
	if err := p.makeVMTransitions(); err != nil {
		return nil, err
	}
	p.linkTransitions()
	p.makeCardinalities()
	for _, r := range b.src.Views() {
		p.resources[r.ID()] = newResourceMapping(p, r)
		p.resourceIDs = append(p.resourceIDs, r.ID())
	}
	if !p.infeasible {
		p.sched = newCumulative(p)
		p.store.Post(p.sched)
	}
	p.stats.CoreBuildDuration = time.Since(began)

	began = time.Now()
	for _, c := range b.constraints {
		if err := p.inject(c); err != nil {
			return nil, err
		}
	}
	if b.objective != nil {
		if err := p.guard(b.objective.String(), b.objective.Inject(p)); err != nil {
			return nil, err
		}
	}
	if !p.infeasible {
		p.breakStayingSymmetries()
	}
	p.stats.InjectionDuration = time.Since(began)
	p.stats.NbVMs = len(p.vms)
	p.stats.NbNodes = len(p.nodes)
	p.stats.NbConstraints = len(b.constraints)
	for _, t := range p.vmTrans {
		if t.IsManaged() {
			p.stats.NbManagedVMs++
		}
	}
	p.logger.Debug("problem built",
		zap.Int("vms", len(p.vms)),
		zap.Int("nodes", len(p.nodes)),
		zap.Int("managed", p.stats.NbManagedVMs),
		zap.Int("variables", p.store.NumVars()),
		zap.Int("propagators", p.store.NumPropagators()),
		zap.Bool("infeasible", p.infeasible),
	)
	return p, nil
}

func (p *Problem) index(b *ProblemBuilder) error {
	m := b.src.Mapping()
	for _, n := range m.Nodes() {
		p.nodeIdx[n] = len(p.nodes)
		p.nodes = append(p.nodes, n)
	}
	for _, vm := range m.VMs() {
		p.vmIdx[vm] = len(p.vms)
		p.vms = append(p.vms, vm)
	}
	if b.buckets == nil {
		for _, vm := range p.vms {
			p.nextState[vm] = m.VMState(vm)
		}
	} else {
		var errs error
		for _, st := range []model.VMState{model.VMStateReady, model.VMStateRunning, model.VMStateSleeping, model.VMStateKilled} {
			for _, vm := range b.buckets[st] {
				if prev, ok := p.nextState[vm]; ok && prev != st {
					errs = multierr.Append(errs, &BuildError{Entity: string(vm), Err: ErrOverlappingStates})
					continue
				}
				if !m.ContainsVM(vm) {
					if st != model.VMStateReady {
						errs = multierr.Append(errs, &BuildError{Entity: string(vm), Err: ErrUnknownVM})
						continue
					}
					if _, ok := p.vmIdx[vm]; !ok {
						p.vmIdx[vm] = len(p.vms)
						p.vms = append(p.vms, vm)
					}
				}
				p.nextState[vm] = st
			}
		}
		for _, vm := range m.VMs() {
			if _, ok := p.nextState[vm]; !ok {
				errs = multierr.Append(errs, &BuildError{Entity: string(vm), Err: ErrMissingState})
			}
		}
		if errs != nil {
			return errs
		}
	}
	var errs error
	if !b.manageSet {
		for _, vm := range p.vms {
			p.managed[vm] = true
		}
	}
	for _, vm := range b.manageable {
		if _, ok := p.vmIdx[vm]; !ok {
			errs = multierr.Append(errs, &BuildError{Entity: string(vm), Err: ErrUnknownVM})
			continue
		}
		p.managed[vm] = true
	}
	for _, n := range b.fixedNodes {
		if _, ok := p.nodeIdx[n]; !ok {
			errs = multierr.Append(errs, &BuildError{Entity: string(n), Err: ErrUnknownNode})
		}
	}
	return errs
}

// validateConstraints checks every entity referenced by the constraints.
func validateConstraints(mo *model.Model, cs []Constraint) error {
	m := mo.Mapping()
	var errs error
	for _, c := range cs {
		// VMs requested ready may not exist yet.
		forge := false
		if sc, ok := c.(StateConstraint); ok && sc.NextState() == model.VMStateReady {
			forge = true
		}
		for _, vm := range c.InvolvedVMs() {
			if !forge && !m.ContainsVM(vm) {
				errs = multierr.Append(errs, &BuildError{Constraint: c.String(), Entity: string(vm), Err: ErrUnknownVM})
			}
		}
		for _, n := range c.InvolvedNodes() {
			if !m.ContainsNode(n) {
				errs = multierr.Append(errs, &BuildError{Constraint: c.String(), Entity: string(n), Err: ErrUnknownNode})
			}
		}
	}
	return errs
}

func (p *Problem) makeNodeTransitions(fixed []model.Node) error {
	pinned := make(map[model.Node]bool, len(fixed))
	for _, n := range fixed {
		pinned[n] = true
	}
	m := p.src.Mapping()
	for _, n := range p.nodes {
		var (
			t   NodeTransition
			err error
		)
		online := m.IsOnline(n)
		if online {
			t, err = p.newShutdownableNode(n)
		} else {
			t, err = p.newBootableNode(n)
		}
		if err != nil {
			return err
		}
		p.nodeTrans = append(p.nodeTrans, t)
		if pinned[n] {
			v := 0
			if online {
				v = 1
			}
			p.fix(p.store.Assign(t.State(), v))
		}
	}
	return nil
}

func (p *Problem) makeVMTransitions() error {
	m := p.src.Mapping()
	var errs error
	for _, vm := range p.vms {
		t, err := p.newVMTransition(vm, p.nextState[vm])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		p.vmTrans = append(p.vmTrans, t)
		// Sleeping VMs need their host online.
		if t.NextState() == model.VMStateSleeping {
			if n, ok := m.Location(vm); ok {
				p.fix(p.store.Assign(p.nodeTrans[p.nodeIdx[n]].State(), 1))
			}
		}
	}
	return errs
}

func (p *Problem) newVMTransition(vm model.VM, next model.VMState) (VMTransition, error) {
	m := p.src.Mapping()
	kind, err := SelectVMTransition(m.VMState(vm), next)
	if err != nil {
		return nil, &BuildError{Entity: string(vm), Err: err}
	}
	host := NotFound
	if n, ok := m.Location(vm); ok {
		host = p.nodeIdx[n]
	}
	switch kind {
	case KindForge:
		return p.newForgeVM(vm)
	case KindStayReady:
		return p.newStayReady(vm), nil
	case KindBoot:
		return p.newBootVM(vm)
	case KindRelocatable:
		return p.newRelocatable(vm, host, p.managed[vm])
	case KindShutdown:
		return p.newShutdownVM(vm, host)
	case KindSuspend:
		return p.newSuspendVM(vm, host)
	case KindStayAway:
		return p.newStayAway(vm), nil
	case KindResume:
		return p.newResumeVM(vm, host)
	case KindKill:
		return p.newKillVM(vm)
	}
	return nil, &BuildError{Entity: string(vm), Err: ErrNoTransition}
}

// linkTransitions bounds every transition by the end of the plan and keeps
// sleeping VMs on a node until they leave it.
func (p *Problem) linkTransitions() {
	for _, t := range p.vmTrans {
		p.store.Post(csp.Leq(t.End(), 0, p.end))
		if t.SourceState() != model.VMStateSleeping {
			continue
		}
		if n, ok := p.src.Mapping().Location(t.VM()); ok {
			p.store.Post(csp.Leq(t.End(), 0, p.nodeTrans[p.nodeIdx[n]].HostingEnd()))
		}
	}
	for _, t := range p.nodeTrans {
		p.store.Post(csp.Leq(t.End(), 0, p.end))
	}
}

// makeCardinalities counts the VMs running on every node at the end of the
// plan. An offline node hosts none of them.
func (p *Problem) makeCardinalities() {
	var hosts []csp.Var
	for _, t := range p.vmTrans {
		if d := t.DSlice(); d != nil {
			hosts = append(hosts, d.Host)
		}
	}
	p.nbRunning = make([]csp.Var, len(p.nodes))
	for i, n := range p.nodes {
		p.nbRunning[i] = p.store.IntVar(fmt.Sprintf("nbRunning(%s)", n), 0, len(hosts))
		p.store.Post(csp.Implies(p.nodeTrans[i].State(), 0, p.nbRunning[i], 0, 0))
	}
	if len(hosts) > 0 {
		p.store.Post(csp.Cardinality(hosts, p.nbRunning))
	} else {
		for _, v := range p.nbRunning {
			p.fix(p.store.Assign(v, 0))
		}
	}
}

func (p *Problem) inject(c Constraint) error {
	if c.IsContinuous() && !c.IsSatisfied(p.src) {
		return &BuildError{Constraint: c.String(), Err: ErrNotSatisfiedInitially}
	}
	return p.guard(c.String(), c.Inject(p))
}

// guard turns an injection error into a build error, or marks the problem
// infeasible on contradiction.
func (p *Problem) guard(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, csp.ErrContradiction) {
		p.logger.Debug("contradiction while injecting", zap.String("constraint", name))
		p.infeasible = true
		return nil
	}
	var be *BuildError
	if errors.As(err, &be) {
		return err
	}
	return &BuildError{Constraint: name, Err: err}
}

// fix records a contradiction met while building.
func (p *Problem) fix(err error) {
	if err != nil {
		p.infeasible = true
	}
}

// Store returns the variable store.
func (p *Problem) Store() *csp.Store { return p.store }

// SourceModel returns the model the plan starts from.
func (p *Problem) SourceModel() *model.Model { return p.src }

// Logger returns the problem logger.
func (p *Problem) Logger() *zap.Logger { return p.logger }

// Start is the beginning of the plan, always 0.
func (p *Problem) Start() csp.Var { return p.start }

// End is the end of the plan.
func (p *Problem) End() csp.Var { return p.end }

// MaxEnd is the horizon of every time variable.
func (p *Problem) MaxEnd() int { return p.params.MaxEnd }

// VMs returns the VMs in index order.
func (p *Problem) VMs() []model.VM { return p.vms }

// Nodes returns the nodes in index order.
func (p *Problem) Nodes() []model.Node { return p.nodes }

// VMIndex returns the index of a VM, or NotFound.
func (p *Problem) VMIndex(vm model.VM) int {
	if i, ok := p.vmIdx[vm]; ok {
		return i
	}
	return NotFound
}

// NodeIndex returns the index of a node, or NotFound.
func (p *Problem) NodeIndex(n model.Node) int {
	if i, ok := p.nodeIdx[n]; ok {
		return i
	}
	return NotFound
}

// VM returns the VM at index i.
func (p *Problem) VM(i int) model.VM { return p.vms[i] }

// Node returns the node at index i.
func (p *Problem) Node(i int) model.Node { return p.nodes[i] }

// NextState returns the state requested for a VM.
func (p *Problem) NextState(vm model.VM) model.VMState { return p.nextState[vm] }

// VMTransition returns the transition of a VM, or nil when the VM is unknown.
func (p *Problem) VMTransition(vm model.VM) VMTransition {
	if i, ok := p.vmIdx[vm]; ok {
		return p.vmTrans[i]
	}
	return nil
}

// NodeTransition returns the transition of a node, or nil when the node is unknown.
func (p *Problem) NodeTransition(n model.Node) NodeTransition {
	if i, ok := p.nodeIdx[n]; ok {
		return p.nodeTrans[i]
	}
	return nil
}

// VMTransitions returns the VM transitions in index order.
func (p *Problem) VMTransitions() []VMTransition { return p.vmTrans }

// NodeTransitions returns the node transitions in index order.
func (p *Problem) NodeTransitions() []NodeTransition { return p.nodeTrans }

// NbRunningVMs is the number of VMs running on a node at the end of the plan.
func (p *Problem) NbRunningVMs(nodeIdx int) csp.Var { return p.nbRunning[nodeIdx] }

// Resource returns the mapping of a resource view.
func (p *Problem) Resource(id string) (*ResourceMapping, bool) {
	r, ok := p.resources[id]
	return r, ok
}

// FutureHosts returns the hosts of the VMs among vms that run at the end of the plan.
func (p *Problem) FutureHosts(vms []model.VM) []csp.Var {
	var res []csp.Var
	for _, vm := range vms {
		if t := p.VMTransition(vm); t != nil && t.DSlice() != nil {
			res = append(res, t.DSlice().Host)
		}
	}
	return res
}

// Post adds a propagator.
func (p *Problem) Post(prop csp.Propagator) { p.store.Post(prop) }

// SetObjective declares the variable to optimize.
func (p *Problem) SetObjective(minimize bool, v csp.Var) {
	p.objective = v
	p.hasObjective = true
	p.maximize = !minimize
}

// Objective returns the objective variable, if one is declared.
func (p *Problem) Objective() (csp.Var, bool) { return p.objective, p.hasObjective }

// AddHeuristic registers a branching selector tried before the default ones.
func (p *Problem) AddHeuristic(sel csp.Selector) {
	p.heuristics = append(p.heuristics, sel)
}
