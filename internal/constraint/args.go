package constraint

import "github.com/limiquantix/planner/internal/model"

// Args are the arguments of a constraint, flattened for serialization.
type Args struct {
	VMs        []model.VM
	Nodes      []model.Node
	VMGroups   [][]model.VM
	NodeGroups [][]model.Node
	Resource   string
	Amount     int
	Ratio      float64
	Continuous bool
}

func (b *base) Args() Args {
	return Args{VMs: b.vms, Nodes: b.nodes, Continuous: b.continuous}
}

func (c *Split) Args() Args {
	return Args{VMGroups: c.groups, Continuous: c.continuous}
}

func (c *Among) Args() Args {
	return Args{VMs: c.vms, NodeGroups: c.nodeGroups, Continuous: c.continuous}
}

func (c *SplitAmong) Args() Args {
	return Args{VMGroups: c.vmGroups, NodeGroups: c.nodeGroups, Continuous: c.continuous}
}

func (c *Preserve) Args() Args {
	return Args{VMs: c.vms, Resource: c.resource, Amount: c.amount, Continuous: c.continuous}
}

func (c *Overbook) Args() Args {
	return Args{Nodes: c.nodes, Resource: c.resource, Ratio: c.ratio, Continuous: c.continuous}
}

func (c *SingleResourceCapacity) Args() Args {
	return Args{Nodes: c.nodes, Resource: c.resource, Amount: c.amount, Continuous: c.continuous}
}

func (c *ResourceCapacity) Args() Args {
	return Args{Nodes: c.nodes, Resource: c.resource, Amount: c.amount, Continuous: c.continuous}
}

func (c *SingleRunningCapacity) Args() Args {
	return Args{Nodes: c.nodes, Amount: c.amount, Continuous: c.continuous}
}

func (c *RunningCapacity) Args() Args {
	return Args{Nodes: c.nodes, Amount: c.amount, Continuous: c.continuous}
}

func (c *MaxOnline) Args() Args {
	return Args{Nodes: c.nodes, Amount: c.amount, Continuous: c.continuous}
}
