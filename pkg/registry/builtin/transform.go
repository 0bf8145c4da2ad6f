package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// --- select ---------------------------------------------------------------

type selectColumn struct {
	Name    string            `json:"name"`
	Rename  string            `json:"rename,omitempty"`
	CastTo  models.ColumnType `json:"cast_to,omitempty"`
}

type selectSettings struct {
	Columns     []selectColumn `json:"columns"`
	KeepMissing string         `json:"keep_missing,omitempty"` // keep|drop
}

func Select() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "select",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{
			{Name: "columns", Type: registry.FieldColumnSelector, Required: true},
			{Name: "keep_missing", Type: registry.FieldSingleSelect, Enum: []string{"keep", "drop"}, Default: "drop"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set selectSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			in := firstInput(inputs)
			for _, c := range set.Columns {
				if _, ok := findColumn(in, c.Name); !ok {
					return &models.ValidationError{Field: "columns", Message: fmt.Sprintf("unknown column %q", c.Name)}
				}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			var set selectSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			in := firstInput(inputs)
			out := models.Schema{}
			for _, c := range set.Columns {
				col, ok := findColumn(in, c.Name)
				if !ok {
					return models.Schema{}, &models.SchemaError{Cause: &models.ValidationError{Field: "columns", Message: fmt.Sprintf("unknown column %q", c.Name)}}
				}
				if c.Rename != "" {
					col.Name = c.Rename
				}
				if c.CastTo != "" {
					col.Type = c.CastTo
				}
				out.Columns = append(out.Columns, col)
			}
			return out, nil
		},
		BuildPlan: simplePlan("select"),
	}
}

// --- filter -----------------------------------------------------------

type filterPredicate struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Value2   any    `json:"value2,omitempty"`
}

type filterSettings struct {
	Predicate  *filterPredicate `json:"predicate,omitempty"`
	Expression string           `json:"expression,omitempty"`
}

var filterOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"contains": true, "starts_with": true, "ends_with": true, "between": true, "in": true, "is_null": true, "not_null": true,
}

func Filter() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "filter",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{
			{Name: "predicate", Type: registry.FieldText},
			{Name: "expression", Type: registry.FieldText},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set filterSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			in := firstInput(inputs)
			if set.Expression != "" {
				env := map[string]any{"row": map[string]any{}}
				for _, c := range in.Columns {
					env["row"].(map[string]any)[c.Name] = nil
				}
				if _, err := expr.Compile(set.Expression, expr.Env(env)); err != nil {
					return &models.ValidationError{Field: "expression", Message: err.Error()}
				}
				return nil
			}
			if set.Predicate == nil {
				return &models.ValidationError{Message: "either predicate or expression is required"}
			}
			if _, ok := findColumn(in, set.Predicate.Field); !ok {
				return &models.ValidationError{Field: "predicate.field", Message: fmt.Sprintf("unknown column %q", set.Predicate.Field)}
			}
			if !filterOperators[set.Predicate.Operator] {
				return &models.ValidationError{Field: "predicate.operator", Message: fmt.Sprintf("unsupported operator %q", set.Predicate.Operator)}
			}
			return nil
		},
		Propagate: passthroughSchema,
		BuildPlan: simplePlan("filter"),
	}
}

// --- record_id / formula ------------------------------------------------

type recordIDSettings struct {
	OutputColumn string `json:"output_column"`
	StartAt      int64  `json:"start_at,omitempty"`
}

func RecordID() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "record_id",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{
			{Name: "output_column", Type: registry.FieldText, Required: true},
			{Name: "start_at", Type: registry.FieldNumeric, Default: 0},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set recordIDSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.OutputColumn == "" {
				return &models.ValidationError{Field: "output_column", Message: "required"}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			var set recordIDSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			in := firstInput(inputs)
			out := models.Schema{Columns: append([]models.Column{{Name: set.OutputColumn, Type: models.ColumnInt64}}, in.Columns...)}
			return out, nil
		},
		BuildPlan: simplePlan("record_id"),
	}
}

type formulaSettings struct {
	OutputColumn string            `json:"output_column"`
	Expression   string            `json:"expression"`
	OutputType   models.ColumnType `json:"output_type"`
}

func Formula() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "formula",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{
			{Name: "output_column", Type: registry.FieldText, Required: true},
			{Name: "expression", Type: registry.FieldText, Required: true},
			{Name: "output_type", Type: registry.FieldSingleSelect, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set formulaSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.OutputColumn == "" || set.Expression == "" {
				return &models.ValidationError{Message: "output_column and expression are required"}
			}
			in := firstInput(inputs)
			env := map[string]any{}
			for _, c := range in.Columns {
				env[c.Name] = nil
			}
			if _, err := expr.Compile(set.Expression, expr.Env(env)); err != nil {
				return &models.ValidationError{Field: "expression", Message: err.Error()}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			var set formulaSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			in := firstInput(inputs)
			cols := make([]models.Column, 0, len(in.Columns)+1)
			replaced := false
			for _, c := range in.Columns {
				if c.Name == set.OutputColumn {
					cols = append(cols, models.Column{Name: set.OutputColumn, Type: set.OutputType})
					replaced = true
					continue
				}
				cols = append(cols, c)
			}
			if !replaced {
				cols = append(cols, models.Column{Name: set.OutputColumn, Type: set.OutputType})
			}
			return models.Schema{Columns: cols}, nil
		},
		BuildPlan: simplePlan("formula"),
	}
}

// --- head / sample ------------------------------------------------------

type limitSettings struct {
	N int64 `json:"n"`
}

func limitKind(kind string) registry.Descriptor {
	return registry.Descriptor{
		Kind:     kind,
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{{Name: "n", Type: registry.FieldNumeric, Required: true}},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set limitSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.N <= 0 {
				return &models.ValidationError{Field: "n", Message: "must be > 0"}
			}
			return nil
		},
		Propagate: passthroughSchema,
		BuildPlan: simplePlan(kind),
	}
}

func Head() registry.Descriptor   { return limitKind("head") }
func Sample() registry.Descriptor { return limitKind("sample") }

// --- sort -----------------------------------------------------------

type sortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

type sortSettings struct {
	Keys []sortKey `json:"keys"`
}

func Sort() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "sort",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{{Name: "keys", Type: registry.FieldArray, Required: true}},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set sortSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if len(set.Keys) == 0 {
				return &models.ValidationError{Field: "keys", Message: "at least one sort key is required"}
			}
			in := firstInput(inputs)
			for _, k := range set.Keys {
				if _, ok := findColumn(in, k.Column); !ok {
					return &models.ValidationError{Field: "keys", Message: fmt.Sprintf("unknown column %q", k.Column)}
				}
			}
			return nil
		},
		Propagate: passthroughSchema,
		BuildPlan: simplePlan("sort"),
	}
}

// --- unique -----------------------------------------------------------

type uniqueSettings struct {
	Columns []string `json:"columns"`
	Keep    string   `json:"keep"` // first|last|any|none
}

func Unique() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "unique",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{
			{Name: "columns", Type: registry.FieldColumnSelector, Required: true},
			{Name: "keep", Type: registry.FieldSingleSelect, Enum: []string{"first", "last", "any", "none"}, Default: "any"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set uniqueSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			in := firstInput(inputs)
			for _, name := range set.Columns {
				if _, ok := findColumn(in, name); !ok {
					return &models.ValidationError{Field: "columns", Message: fmt.Sprintf("unknown column %q", name)}
				}
			}
			return nil
		},
		Propagate: passthroughSchema,
		BuildPlan: simplePlan("unique"),
	}
}

// --- shared helpers -------------------------------------------------------

func passthroughSchema(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
	if err := requireInputs(inputs, 1); err != nil {
		return models.Schema{}, err
	}
	return firstInput(inputs), nil
}

func simplePlan(kind string) registry.PlanBuilderFunc {
	return func(nodeID int64, settings json.RawMessage, inputs []registry.PlanInput, opts registry.PlanOptions) (*registry.Plan, error) {
		return &registry.Plan{Kind: kind, NodeID: nodeID, Settings: settings, Inputs: inputs, Options: opts}, nil
	}
}
