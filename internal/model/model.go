package model

import "sort"

// Model bundles a mapping, resource views and attributes.
type Model struct {
	mapping *Mapping
	attrs   *Attributes
	views   map[string]*ShareableResource
}

// New returns an empty model.
func New() *Model {
	return &Model{
		mapping: NewMapping(),
		attrs:   NewAttributes(),
		views:   make(map[string]*ShareableResource),
	}
}

// Mapping returns the VM placement.
func (m *Model) Mapping() *Mapping { return m.mapping }

// Attributes returns the attribute store.
func (m *Model) Attributes() *Attributes { return m.attrs }

// AttachView registers a resource view, replacing any view with the same id.
func (m *Model) AttachView(r *ShareableResource) {
	m.views[r.ID()] = r
}

// View returns the resource view with the given id.
func (m *Model) View(id string) (*ShareableResource, bool) {
	r, ok := m.views[id]
	return r, ok
}

// Views returns every resource view ordered by id.
func (m *Model) Views() []*ShareableResource {
	ids := make([]string, 0, len(m.views))
	for id := range m.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	res := make([]*ShareableResource, len(ids))
	for i, id := range ids {
		res[i] = m.views[id]
	}
	return res
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := &Model{
		mapping: m.mapping.Clone(),
		attrs:   m.attrs.Clone(),
		views:   make(map[string]*ShareableResource, len(m.views)),
	}
	for k, v := range m.views {
		c.views[k] = v.Clone()
	}
	return c
}
