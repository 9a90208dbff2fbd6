package model

import "strconv"

// Attributes stores free-form key/value pairs attached to VMs and nodes.
// Values are kept as strings; typed accessors parse them on demand.
type Attributes struct {
	vms   map[VM]map[string]string
	nodes map[Node]map[string]string
}

// NewAttributes returns an empty attribute store.
func NewAttributes() *Attributes {
	return &Attributes{
		vms:   make(map[VM]map[string]string),
		nodes: make(map[Node]map[string]string),
	}
}

// PutVM sets an attribute on a VM.
func (a *Attributes) PutVM(vm VM, key, value string) {
	if a.vms[vm] == nil {
		a.vms[vm] = make(map[string]string)
	}
	a.vms[vm][key] = value
}

// PutNode sets an attribute on a node.
func (a *Attributes) PutNode(n Node, key, value string) {
	if a.nodes[n] == nil {
		a.nodes[n] = make(map[string]string)
	}
	a.nodes[n][key] = value
}

// VM returns the raw value of a VM attribute.
func (a *Attributes) VM(vm VM, key string) (string, bool) {
	v, ok := a.vms[vm][key]
	return v, ok
}

// Node returns the raw value of a node attribute.
func (a *Attributes) Node(n Node, key string) (string, bool) {
	v, ok := a.nodes[n][key]
	return v, ok
}

// VMInt returns an integer VM attribute.
func (a *Attributes) VMInt(vm VM, key string) (int, bool) {
	v, ok := a.VM(vm, key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	return i, err == nil
}

// NodeInt returns an integer node attribute.
func (a *Attributes) NodeInt(n Node, key string) (int, bool) {
	v, ok := a.Node(n, key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	return i, err == nil
}

// VMBool returns a boolean VM attribute. Missing or malformed values are false.
func (a *Attributes) VMBool(vm VM, key string) bool {
	v, ok := a.VM(vm, key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// VMKeys returns every attribute of a VM.
func (a *Attributes) VMKeys(vm VM) map[string]string {
	return copyAttrs(a.vms[vm])
}

// NodeKeys returns every attribute of a node.
func (a *Attributes) NodeKeys(n Node) map[string]string {
	return copyAttrs(a.nodes[n])
}

// VMsWithAttributes returns the VMs having at least one attribute, sorted.
func (a *Attributes) VMsWithAttributes() []VM {
	return sortedKeys(a.vms)
}

// NodesWithAttributes returns the nodes having at least one attribute, sorted.
func (a *Attributes) NodesWithAttributes() []Node {
	return sortedKeys(a.nodes)
}

// Clone returns a deep copy.
func (a *Attributes) Clone() *Attributes {
	c := NewAttributes()
	for k, v := range a.vms {
		c.vms[k] = copyAttrs(v)
	}
	for k, v := range a.nodes {
		c.nodes[k] = copyAttrs(v)
	}
	return c
}

func copyAttrs(src map[string]string) map[string]string {
	res := make(map[string]string, len(src))
	for k, v := range src {
		res[k] = v
	}
	return res
}
