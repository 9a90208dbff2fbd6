package model

import "sort"

// ShareableResource is a view describing one resource dimension (cpu, memory, ...):
// the capacity of every node and the consumption of every VM.
type ShareableResource struct {
	id          string
	defCapacity int
	defConsume  int
	capacity    map[Node]int
	consumption map[VM]int
}

// NewShareableResource creates a resource view. Nodes and VMs without an explicit
// value use the given defaults.
func NewShareableResource(id string, defCapacity, defConsumption int) *ShareableResource {
	return &ShareableResource{
		id:          id,
		defCapacity: defCapacity,
		defConsume:  defConsumption,
		capacity:    make(map[Node]int),
		consumption: make(map[VM]int),
	}
}

// ID returns the resource identifier.
func (r *ShareableResource) ID() string { return r.id }

// DefaultCapacity returns the capacity of nodes without an explicit value.
func (r *ShareableResource) DefaultCapacity() int { return r.defCapacity }

// DefaultConsumption returns the consumption of VMs without an explicit value.
func (r *ShareableResource) DefaultConsumption() int { return r.defConsume }

// SetCapacity sets the capacity of n.
func (r *ShareableResource) SetCapacity(n Node, v int) *ShareableResource {
	r.capacity[n] = v
	return r
}

// SetConsumption sets the consumption of vm.
func (r *ShareableResource) SetConsumption(vm VM, v int) *ShareableResource {
	r.consumption[vm] = v
	return r
}

// Capacity returns the capacity of n.
func (r *ShareableResource) Capacity(n Node) int {
	if v, ok := r.capacity[n]; ok {
		return v
	}
	return r.defCapacity
}

// Consumption returns the consumption of vm.
func (r *ShareableResource) Consumption(vm VM) int {
	if v, ok := r.consumption[vm]; ok {
		return v
	}
	return r.defConsume
}

// DefinedCapacities returns the nodes with an explicit capacity.
func (r *ShareableResource) DefinedCapacities() map[Node]int {
	res := make(map[Node]int, len(r.capacity))
	for k, v := range r.capacity {
		res[k] = v
	}
	return res
}

// DefinedConsumptions returns the VMs with an explicit consumption.
func (r *ShareableResource) DefinedConsumptions() map[VM]int {
	res := make(map[VM]int, len(r.consumption))
	for k, v := range r.consumption {
		res[k] = v
	}
	return res
}

// SumConsumption returns the total consumption of the given VMs.
func (r *ShareableResource) SumConsumption(vms []VM) int {
	s := 0
	for _, vm := range vms {
		s += r.Consumption(vm)
	}
	return s
}

// SumCapacity returns the total capacity of the given nodes.
func (r *ShareableResource) SumCapacity(nodes []Node) int {
	s := 0
	for _, n := range nodes {
		s += r.Capacity(n)
	}
	return s
}

// Clone returns a deep copy of the view.
func (r *ShareableResource) Clone() *ShareableResource {
	c := NewShareableResource(r.id, r.defCapacity, r.defConsume)
	for k, v := range r.capacity {
		c.capacity[k] = v
	}
	for k, v := range r.consumption {
		c.consumption[k] = v
	}
	return c
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
