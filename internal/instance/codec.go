package instance

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

var defaultRegistry = NewRegistry()

// Decode reads an instance with the default registry.
func Decode(r io.Reader, format Format) (*scheduler.Instance, error) {
	return defaultRegistry.Decode(r, format)
}

// Encode writes an instance with the default registry.
func Encode(w io.Writer, inst scheduler.Instance, format Format) error {
	return defaultRegistry.Encode(w, inst, format)
}

// Decode reads an instance. Every invalid constraint is reported.
func (r *Registry) Decode(rd io.Reader, format Format) (*scheduler.Instance, error) {
	var doc Document
	if err := read(rd, format, &doc); err != nil {
		return nil, err
	}
	return r.FromDocument(doc)
}

// FromDocument converts a document into an instance.
func (r *Registry) FromDocument(doc Document) (*scheduler.Instance, error) {
	mo, err := doc.Model.ToModel()
	if err != nil {
		return nil, err
	}
	inst := &scheduler.Instance{Model: mo}
	var errs error
	for i, cd := range doc.Constraints {
		c, err := r.Constraint(cd)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("constraint %d: %w", i, err))
			continue
		}
		inst.Constraints = append(inst.Constraints, c)
	}
	if doc.Objective != nil {
		o, err := r.Objective(*doc.Objective)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		inst.Objective = o
	}
	if errs != nil {
		return nil, errs
	}
	return inst, nil
}

// Encode writes an instance.
func (r *Registry) Encode(w io.Writer, inst scheduler.Instance, format Format) error {
	doc, err := r.ToDocument(inst)
	if err != nil {
		return err
	}
	return write(w, format, doc)
}

// ToDocument converts an instance into its document.
func (r *Registry) ToDocument(inst scheduler.Instance) (Document, error) {
	if inst.Model == nil {
		return Document{}, fmt.Errorf("instance without model: %w", ErrInvalidDocument)
	}
	doc := Document{Model: FromModel(inst.Model)}
	for _, c := range inst.Constraints {
		cd, err := r.constraintDoc(c)
		if err != nil {
			return Document{}, err
		}
		doc.Constraints = append(doc.Constraints, cd)
	}
	if inst.Objective != nil {
		id := objectiveID(inst.Objective)
		if _, ok := r.objectives[id]; !ok {
			return Document{}, fmt.Errorf("%q: %w", id, ErrUnknownObjective)
		}
		doc.Objective = &ObjectiveDoc{ID: id}
	}
	return doc, nil
}

// PlanDoc is the serialized form of a plan.
type PlanDoc struct {
	ID      string        `json:"id" yaml:"id"`
	Origin  ModelDoc      `json:"origin" yaml:"origin"`
	Actions []plan.Action `json:"actions" yaml:"actions"`
}

// FromPlan converts a plan into its document.
func FromPlan(p *plan.ReconfigurationPlan) PlanDoc {
	return PlanDoc{ID: p.ID, Origin: FromModel(p.Origin()), Actions: p.Actions()}
}

// ToPlan builds the plan described by the document.
func (d PlanDoc) ToPlan() (*plan.ReconfigurationPlan, error) {
	origin, err := d.Origin.ToModel()
	if err != nil {
		return nil, fmt.Errorf("failed to read origin: %w", err)
	}
	p := plan.New(origin)
	if d.ID != "" {
		p.ID = d.ID
	}
	for _, a := range d.Actions {
		if err := p.Add(a); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// EncodePlan writes a plan with its origin model.
func EncodePlan(w io.Writer, p *plan.ReconfigurationPlan, format Format) error {
	return write(w, format, FromPlan(p))
}

// DecodePlan reads a plan.
func DecodePlan(r io.Reader, format Format) (*plan.ReconfigurationPlan, error) {
	var doc PlanDoc
	if err := read(r, format, &doc); err != nil {
		return nil, err
	}
	return doc.ToPlan()
}

// Fingerprint identifies an instance solved with some parameters. Two
// instances with the same fingerprint have the same plans.
func Fingerprint(inst scheduler.Instance, params scheduler.Parameters) (string, error) {
	doc, err := defaultRegistry.ToDocument(inst)
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	if err := json.NewEncoder(h).Encode(doc); err != nil {
		return "", fmt.Errorf("failed to hash instance: %w", err)
	}
	fmt.Fprintf(h, "max_end=%d optimize=%t repair=%t", params.MaxEnd, params.Optimize, params.Repair)
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func read(r io.Reader, format Format, v any) error {
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		return fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
	return nil
}

func write(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
	return nil
}
