// Package instance reads and writes scheduling instances and plans. An
// instance is a model, the constraints its reconfiguration must satisfy and
// an optional objective. JSON and YAML share the same document layout.
package instance

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/limiquantix/planner/internal/model"
)

var (
	// ErrUnsupportedFormat is returned for formats other than JSON and YAML.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrUnknownConstraint is returned for constraint ids without builder.
	ErrUnknownConstraint = errors.New("unknown constraint")

	// ErrUnknownObjective is returned for objective ids without builder.
	ErrUnknownObjective = errors.New("unknown objective")

	// ErrInvalidDocument is returned when a document is well-formed but inconsistent.
	ErrInvalidDocument = errors.New("invalid document")
)

// Format is a serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf guesses the format of a file from its extension. JSON is the default.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Document is the serialized form of an instance.
type Document struct {
	Model       ModelDoc        `json:"model" yaml:"model"`
	Constraints []ConstraintDoc `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Objective   *ObjectiveDoc   `json:"objective,omitempty" yaml:"objective,omitempty"`
}

// ModelDoc is the serialized form of a model. Nodes keep their order, which
// is the order of the node indexes in the problem.
type ModelDoc struct {
	Nodes      []NodeDoc      `json:"nodes" yaml:"nodes"`
	ReadyVMs   []model.VM     `json:"readyVMs,omitempty" yaml:"readyVMs,omitempty"`
	Views      []ViewDoc      `json:"views,omitempty" yaml:"views,omitempty"`
	Attributes *AttributesDoc `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// NodeDoc is a node and the VMs it hosts.
type NodeDoc struct {
	ID          model.Node `json:"id" yaml:"id"`
	Online      bool       `json:"online" yaml:"online"`
	RunningVMs  []model.VM `json:"runningVMs,omitempty" yaml:"runningVMs,omitempty"`
	SleepingVMs []model.VM `json:"sleepingVMs,omitempty" yaml:"sleepingVMs,omitempty"`
}

// ViewDoc is a shareable resource.
type ViewDoc struct {
	ID             string             `json:"rcId" yaml:"rcId"`
	DefCapacity    int                `json:"defCapacity" yaml:"defCapacity"`
	DefConsumption int                `json:"defConsumption" yaml:"defConsumption"`
	Nodes          map[model.Node]int `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	VMs            map[model.VM]int   `json:"vms,omitempty" yaml:"vms,omitempty"`
}

// AttributesDoc holds the attributes of VMs and nodes.
type AttributesDoc struct {
	Nodes map[model.Node]map[string]string `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	VMs   map[model.VM]map[string]string   `json:"vms,omitempty" yaml:"vms,omitempty"`
}

// ConstraintDoc is a constraint. Only the fields its kind uses are set.
// Continuous is left unset to keep the default of the kind.
type ConstraintDoc struct {
	ID         string         `json:"id" yaml:"id"`
	VMs        []model.VM     `json:"vms,omitempty" yaml:"vms,omitempty"`
	Nodes      []model.Node   `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	VMGroups   [][]model.VM   `json:"vmGroups,omitempty" yaml:"vmGroups,omitempty"`
	NodeGroups [][]model.Node `json:"nodeGroups,omitempty" yaml:"nodeGroups,omitempty"`
	Resource   string         `json:"rc,omitempty" yaml:"rc,omitempty"`
	Amount     int            `json:"amount,omitempty" yaml:"amount,omitempty"`
	Ratio      float64        `json:"ratio,omitempty" yaml:"ratio,omitempty"`
	Continuous *bool          `json:"continuous,omitempty" yaml:"continuous,omitempty"`
}

// ObjectiveDoc is an optimization objective.
type ObjectiveDoc struct {
	ID string `json:"id" yaml:"id"`
}

// FromModel converts a model into its document.
func FromModel(mo *model.Model) ModelDoc {
	m := mo.Mapping()
	doc := ModelDoc{ReadyVMs: m.VMsIn(model.VMStateReady)}
	for _, n := range m.Nodes() {
		doc.Nodes = append(doc.Nodes, NodeDoc{
			ID:          n,
			Online:      m.IsOnline(n),
			RunningVMs:  m.RunningVMs(n),
			SleepingVMs: m.SleepingVMs(n),
		})
	}
	for _, v := range mo.Views() {
		vd := ViewDoc{ID: v.ID(), DefCapacity: v.DefaultCapacity(), DefConsumption: v.DefaultConsumption()}
		if caps := v.DefinedCapacities(); len(caps) > 0 {
			vd.Nodes = caps
		}
		if cons := v.DefinedConsumptions(); len(cons) > 0 {
			vd.VMs = cons
		}
		doc.Views = append(doc.Views, vd)
	}
	attrs := mo.Attributes()
	ad := &AttributesDoc{}
	for _, n := range attrs.NodesWithAttributes() {
		if ad.Nodes == nil {
			ad.Nodes = make(map[model.Node]map[string]string)
		}
		ad.Nodes[n] = attrs.NodeKeys(n)
	}
	for _, vm := range attrs.VMsWithAttributes() {
		if ad.VMs == nil {
			ad.VMs = make(map[model.VM]map[string]string)
		}
		ad.VMs[vm] = attrs.VMKeys(vm)
	}
	if ad.Nodes != nil || ad.VMs != nil {
		doc.Attributes = ad
	}
	return doc
}

// ToModel builds the model described by the document.
func (d ModelDoc) ToModel() (*model.Model, error) {
	mo := model.New()
	m := mo.Mapping()
	for _, n := range d.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node without id: %w", ErrInvalidDocument)
		}
		if n.Online {
			m.AddOnlineNode(n.ID)
			continue
		}
		if len(n.RunningVMs) > 0 || len(n.SleepingVMs) > 0 {
			return nil, fmt.Errorf("offline node %s hosts vms: %w", n.ID, ErrInvalidDocument)
		}
		if err := m.AddOfflineNode(n.ID); err != nil {
			return nil, fmt.Errorf("failed to add node %s: %w", n.ID, err)
		}
	}
	seen := make(map[model.VM]bool)
	place := func(vm model.VM) error {
		if seen[vm] {
			return fmt.Errorf("vm %s is placed twice: %w", vm, ErrInvalidDocument)
		}
		seen[vm] = true
		return nil
	}
	for _, n := range d.Nodes {
		for _, vm := range n.RunningVMs {
			if err := place(vm); err != nil {
				return nil, err
			}
			if err := m.AddRunningVM(vm, n.ID); err != nil {
				return nil, fmt.Errorf("failed to place %s: %w", vm, err)
			}
		}
		for _, vm := range n.SleepingVMs {
			if err := place(vm); err != nil {
				return nil, err
			}
			if err := m.AddSleepingVM(vm, n.ID); err != nil {
				return nil, fmt.Errorf("failed to place %s: %w", vm, err)
			}
		}
	}
	for _, vm := range d.ReadyVMs {
		if err := place(vm); err != nil {
			return nil, err
		}
		m.AddReadyVM(vm)
	}
	for _, v := range d.Views {
		if v.ID == "" {
			return nil, fmt.Errorf("view without id: %w", ErrInvalidDocument)
		}
		r := model.NewShareableResource(v.ID, v.DefCapacity, v.DefConsumption)
		for n, c := range v.Nodes {
			r.SetCapacity(n, c)
		}
		for vm, c := range v.VMs {
			r.SetConsumption(vm, c)
		}
		mo.AttachView(r)
	}
	if d.Attributes != nil {
		for n, kv := range d.Attributes.Nodes {
			for k, v := range kv {
				mo.Attributes().PutNode(n, k, v)
			}
		}
		for vm, kv := range d.Attributes.VMs {
			for k, v := range kv {
				mo.Attributes().PutVM(vm, k, v)
			}
		}
	}
	return mo, nil
}
