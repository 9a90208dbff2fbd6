package scheduler

import (
	"fmt"

	"github.com/limiquantix/planner/internal/csp"
	"github.com/limiquantix/planner/internal/model"
	"github.com/limiquantix/planner/internal/plan"
)

type nodeBase struct {
	kind         TransitionKind
	node         model.Node
	state        csp.Var
	start, end   csp.Var
	duration     csp.Var
	hostingStart csp.Var
	hostingEnd   csp.Var
	managed      bool
}

func (t *nodeBase) Kind() TransitionKind { return t.kind }
func (t *nodeBase) Node() model.Node { return t.node }
func (t *nodeBase) State() csp.Var { return t.state }
func (t *nodeBase) Start() csp.Var { return t.start }
func (t *nodeBase) End() csp.Var { return t.end }
func (t *nodeBase) Duration() csp.Var { return t.duration }
func (t *nodeBase) HostingStart() csp.Var { return t.hostingStart }
func (t *nodeBase) HostingEnd() csp.Var { return t.hostingEnd }
func (t *nodeBase) IsManaged() bool { return t.managed }
func (t *nodeBase) String() string { return fmt.Sprintf("%s(%s)", t.kind, t.node) }

func (p *Problem) newNodeBase(kind TransitionKind, n model.Node, actionDuration int, online int) nodeBase {
	l := fmt.Sprintf("%s(%s)", kind, n)
	t := nodeBase{
		kind:     kind,
		node:     n,
		state:    p.store.BoolVar(l + ".state"),
		start:    p.timeVar(l + ".start"),
		end:      p.timeVar(l + ".end"),
		duration: p.store.EnumVar(l+".duration", []int{0, actionDuration}),
		managed:  true,
	}
	// A node ends online iff it keeps its state (shutdownable) or boots (bootable).
	onlineDuration := 0
	if online == 0 {
		onlineDuration = actionDuration
	}
	p.store.Post(csp.EqReif(t.state, t.duration, onlineDuration))
	p.store.Post(csp.Plus(t.start, t.duration, t.end))
	t.hostingEnd = p.store.IntVar(l+".hostingEnd", 0, p.params.MaxEnd)
	return t
}

// shutdownableNode is an online node the solver may turn off. Once off, it
// cannot host anything after the beginning of its shutdown.
type shutdownableNode struct{ nodeBase }

func (p *Problem) newShutdownableNode(n model.Node) (*shutdownableNode, error) {
	d, err := p.params.Durations.EvaluateNode(p.src, plan.ActionShutdownNode, n)
	if err != nil {
		return nil, err
	}
	t := &shutdownableNode{nodeBase: p.newNodeBase(KindShutdownable, n, d, 1)}
	t.hostingStart = p.start
	p.store.Post(csp.Element(t.state, []csp.Var{t.start, p.store.Const(p.params.MaxEnd)}, t.hostingEnd))
	return t, nil
}

func (t *shutdownableNode) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	if s.Value(t.state) == 1 {
		return nil
	}
	return p.Add(plan.ShutdownNode(t.node, s.Value(t.start), s.Value(t.end)))
}

// bootableNode is an offline node the solver may turn on. It can host VMs once booted.
type bootableNode struct{ nodeBase }

func (p *Problem) newBootableNode(n model.Node) (*bootableNode, error) {
	d, err := p.params.Durations.EvaluateNode(p.src, plan.ActionBootNode, n)
	if err != nil {
		return nil, err
	}
	t := &bootableNode{nodeBase: p.newNodeBase(KindBootable, n, d, 0)}
	t.hostingStart = t.end
	p.store.Post(csp.Element(t.state, []csp.Var{p.store.Const(0), p.store.Const(p.params.MaxEnd)}, t.hostingEnd))
	return t, nil
}

func (t *bootableNode) InsertActions(s *csp.Store, p *plan.ReconfigurationPlan) error {
	if s.Value(t.state) == 0 {
		return nil
	}
	return p.Add(plan.BootNode(t.node, s.Value(t.start), s.Value(t.end)))
}
