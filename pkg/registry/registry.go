// Package registry is the Node Library (C2): a registry mapping node-kind
// names to a descriptor exposing shape, a settings schema, a validator, a
// schema-propagation function, and a lazy-plan builder.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/smilemakc/mbflow/pkg/models"
)

// Category is metadata-only classification of a node kind.
type Category string

const (
	CategoryInput     Category = "input"
	CategoryTransform Category = "transform"
	CategoryCombine   Category = "combine"
	CategoryAggregate Category = "aggregate"
	CategoryOutput    Category = "output"
)

// FieldType is the declarative type of a settings-schema field, re-exposed
// to the UI verbatim via C7.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldNumeric        FieldType = "numeric"
	FieldBool           FieldType = "bool"
	FieldArray          FieldType = "array"
	FieldSingleSelect   FieldType = "single-select"
	FieldMultiSelect    FieldType = "multi-select"
	FieldColumnSelector FieldType = "column-selector"
	FieldSecretRef      FieldType = "secret-ref"
)

// FieldSpec declares one field of a node kind's settings schema.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Default  any       `json:"default,omitempty"`
	Enum     []string  `json:"enum,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	Required bool      `json:"required,omitempty"`
}

// Shape describes a node kind's port layout.
type Shape struct {
	Inputs        int
	HasRightInput bool
	Outputs       int
}

// PlanInput is one bound input of a plan: the upstream artifact reference
// and the port label it was bound from.
type PlanInput struct {
	Port     string          `json:"port"`
	Artifact *models.Artifact `json:"artifact"`
}

// Plan is the structured, lazy operation description C2 hands to C4. It is
// never raw code, even for polars_code nodes: the source snippet travels as
// a field alongside the names of its bound inputs.
type Plan struct {
	Kind     string          `json:"kind"`
	NodeID   int64           `json:"node_id"`
	Settings json.RawMessage `json:"settings"`
	Inputs   []PlanInput     `json:"inputs"`
	Options  PlanOptions     `json:"options"`
}

// PlanOptions carries execution-mode flags that apply uniformly to every
// plan kind.
type PlanOptions struct {
	Mode         models.ExecutionMode `json:"mode"`
	SampleRows   int64                `json:"sample_rows,omitempty"`
	OutputFormat models.ArtifactFormat `json:"output_format,omitempty"`
}

// ValidateFunc checks settings against the schemas of connected inputs.
type ValidateFunc func(settings json.RawMessage, inputs []models.Schema) error

// PropagateFunc derives a node's output schema from its settings and input
// schemas. It must be pure: identical inputs always yield an identical
// schema.
type PropagateFunc func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error)

// PlanBuilderFunc builds the lazy plan for a node given its settings and
// resolved upstream artifacts, keyed by the port they are bound to.
type PlanBuilderFunc func(nodeID int64, settings json.RawMessage, inputs []PlanInput, opts PlanOptions) (*Plan, error)

// Descriptor is everything the registry knows about one node kind.
type Descriptor struct {
	Kind      string
	Shape     Shape
	Category  Category
	Settings  []FieldSpec
	Validate  ValidateFunc
	Propagate PropagateFunc
	BuildPlan PlanBuilderFunc
}

// Registry is the Node Library's lookup surface.
type Registry interface {
	Register(d Descriptor) error
	Get(kind string) (Descriptor, error)
	Has(kind string) bool
	List() []string
	Unregister(kind string)
}

type registry struct {
	mu    sync.RWMutex
	kinds map[string]Descriptor
}

// New creates an empty node-kind registry.
func New() Registry {
	return &registry{kinds: make(map[string]Descriptor)}
}

func (r *registry) Register(d Descriptor) error {
	if d.Kind == "" {
		return fmt.Errorf("registry: descriptor has no kind")
	}
	if d.Propagate == nil {
		return fmt.Errorf("registry: %s has no schema-propagation function", d.Kind)
	}
	if d.BuildPlan == nil {
		return fmt.Errorf("registry: %s has no plan builder", d.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[d.Kind] = d
	return nil
}

func (r *registry) Get(kind string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.kinds[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("%s: %w", kind, models.ErrUnknownKind)
	}
	return d, nil
}

func (r *registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

func (r *registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	return out
}

func (r *registry) Unregister(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kinds, kind)
}
