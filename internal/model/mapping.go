// Package model describes the infrastructure a reconfiguration plan operates on:
// nodes, virtual machines, their current placement, resource views and attributes.
package model

import (
	"errors"
	"fmt"
)

// VM identifies a virtual machine.
type VM string

// Node identifies a physical node.
type Node string

// VMState is the lifecycle state of a VM.
type VMState string

const (
	// VMStateInit is the state of a VM known to the model but not yet created.
	VMStateInit     VMState = "init"
	VMStateReady    VMState = "ready"
	VMStateRunning  VMState = "running"
	VMStateSleeping VMState = "sleeping"
	VMStateKilled   VMState = "killed"
)

// NodeState is the power state of a node.
type NodeState string

const (
	NodeStateOnline  NodeState = "online"
	NodeStateOffline NodeState = "offline"
)

var (
	// ErrUnknownNode is returned when an operation references a node absent from the mapping.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownVM is returned when an operation references a VM absent from the mapping.
	ErrUnknownVM = errors.New("unknown vm")

	// ErrNodeOffline is returned when a VM is placed on an offline node.
	ErrNodeOffline = errors.New("node is offline")

	// ErrNodeNotEmpty is returned when a node hosting VMs is turned off.
	ErrNodeNotEmpty = errors.New("node still hosts VMs")
)

// Mapping is the placement of VMs on nodes. Iteration order follows insertion order.
type Mapping struct {
	nodes     []Node
	nodeState map[Node]NodeState

	vms     []VM
	vmState map[VM]VMState
	vmHost  map[VM]Node
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		nodeState: make(map[Node]NodeState),
		vmState:   make(map[VM]VMState),
		vmHost:    make(map[VM]Node),
	}
}

func (m *Mapping) addNode(n Node, st NodeState) {
	if _, ok := m.nodeState[n]; !ok {
		m.nodes = append(m.nodes, n)
	}
	m.nodeState[n] = st
}

// AddOnlineNode declares n as online.
func (m *Mapping) AddOnlineNode(n Node) {
	m.addNode(n, NodeStateOnline)
}

// AddOfflineNode declares n as offline. It fails if n still hosts VMs.
func (m *Mapping) AddOfflineNode(n Node) error {
	if len(m.RunningVMs(n)) > 0 || len(m.SleepingVMs(n)) > 0 {
		return fmt.Errorf("failed to turn off %s: %w", n, ErrNodeNotEmpty)
	}
	m.addNode(n, NodeStateOffline)
	return nil
}

func (m *Mapping) setVM(vm VM, st VMState, host Node) {
	if _, ok := m.vmState[vm]; !ok {
		m.vms = append(m.vms, vm)
	}
	m.vmState[vm] = st
	if host == "" {
		delete(m.vmHost, vm)
	} else {
		m.vmHost[vm] = host
	}
}

func (m *Mapping) checkOnline(n Node) error {
	st, ok := m.nodeState[n]
	if !ok {
		return fmt.Errorf("%s: %w", n, ErrUnknownNode)
	}
	if st != NodeStateOnline {
		return fmt.Errorf("%s: %w", n, ErrNodeOffline)
	}
	return nil
}

// AddRunningVM places vm in the running state on n.
func (m *Mapping) AddRunningVM(vm VM, n Node) error {
	if err := m.checkOnline(n); err != nil {
		return fmt.Errorf("failed to run %s: %w", vm, err)
	}
	m.setVM(vm, VMStateRunning, n)
	return nil
}

// AddSleepingVM places vm in the sleeping state on n.
func (m *Mapping) AddSleepingVM(vm VM, n Node) error {
	if err := m.checkOnline(n); err != nil {
		return fmt.Errorf("failed to suspend %s: %w", vm, err)
	}
	m.setVM(vm, VMStateSleeping, n)
	return nil
}

// AddReadyVM declares vm as ready: created but not hosted anywhere.
func (m *Mapping) AddReadyVM(vm VM) {
	m.setVM(vm, VMStateReady, "")
}

// Remove drops vm from the mapping.
func (m *Mapping) Remove(vm VM) bool {
	if _, ok := m.vmState[vm]; !ok {
		return false
	}
	delete(m.vmState, vm)
	delete(m.vmHost, vm)
	for i, v := range m.vms {
		if v == vm {
			m.vms = append(m.vms[:i], m.vms[i+1:]...)
			break
		}
	}
	return true
}

// VMState returns the state of vm, VMStateInit when vm is not in the mapping.
func (m *Mapping) VMState(vm VM) VMState {
	if st, ok := m.vmState[vm]; ok {
		return st
	}
	return VMStateInit
}

// Location returns the node hosting vm, if any.
func (m *Mapping) Location(vm VM) (Node, bool) {
	n, ok := m.vmHost[vm]
	return n, ok
}

// NodeState returns the state of n and whether n is known.
func (m *Mapping) NodeState(n Node) (NodeState, bool) {
	st, ok := m.nodeState[n]
	return st, ok
}

// ContainsNode reports whether n belongs to the mapping.
func (m *Mapping) ContainsNode(n Node) bool {
	_, ok := m.nodeState[n]
	return ok
}

// ContainsVM reports whether vm belongs to the mapping.
func (m *Mapping) ContainsVM(vm VM) bool {
	_, ok := m.vmState[vm]
	return ok
}

// IsOnline reports whether n is online.
func (m *Mapping) IsOnline(n Node) bool {
	return m.nodeState[n] == NodeStateOnline
}

// Nodes returns every node.
func (m *Mapping) Nodes() []Node {
	return append([]Node(nil), m.nodes...)
}

// OnlineNodes returns the online nodes.
func (m *Mapping) OnlineNodes() []Node {
	return m.nodesIn(NodeStateOnline)
}

// OfflineNodes returns the offline nodes.
func (m *Mapping) OfflineNodes() []Node {
	return m.nodesIn(NodeStateOffline)
}

func (m *Mapping) nodesIn(st NodeState) []Node {
	var res []Node
	for _, n := range m.nodes {
		if m.nodeState[n] == st {
			res = append(res, n)
		}
	}
	return res
}

// VMs returns every VM of the mapping.
func (m *Mapping) VMs() []VM {
	return append([]VM(nil), m.vms...)
}

// VMsIn returns the VMs in the given state.
func (m *Mapping) VMsIn(st VMState) []VM {
	var res []VM
	for _, vm := range m.vms {
		if m.vmState[vm] == st {
			res = append(res, vm)
		}
	}
	return res
}

// RunningVMs returns the VMs running on n.
func (m *Mapping) RunningVMs(n Node) []VM {
	return m.hosted(n, VMStateRunning)
}

// SleepingVMs returns the VMs sleeping on n.
func (m *Mapping) SleepingVMs(n Node) []VM {
	return m.hosted(n, VMStateSleeping)
}

func (m *Mapping) hosted(n Node, st VMState) []VM {
	var res []VM
	for _, vm := range m.vms {
		if m.vmState[vm] == st && m.vmHost[vm] == n {
			res = append(res, vm)
		}
	}
	return res
}

// Clone returns a deep copy of the mapping.
func (m *Mapping) Clone() *Mapping {
	c := NewMapping()
	c.nodes = append(c.nodes, m.nodes...)
	c.vms = append(c.vms, m.vms...)
	for k, v := range m.nodeState {
		c.nodeState[k] = v
	}
	for k, v := range m.vmState {
		c.vmState[k] = v
	}
	for k, v := range m.vmHost {
		c.vmHost[k] = v
	}
	return c
}

// Equal reports whether both mappings place the same VMs the same way.
func (m *Mapping) Equal(o *Mapping) bool {
	if len(m.nodeState) != len(o.nodeState) || len(m.vmState) != len(o.vmState) {
		return false
	}
	for n, st := range m.nodeState {
		if o.nodeState[n] != st {
			return false
		}
	}
	for vm, st := range m.vmState {
		if o.vmState[vm] != st || o.vmHost[vm] != m.vmHost[vm] {
			return false
		}
	}
	return true
}
