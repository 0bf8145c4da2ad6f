package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// AggFunc enumerates the group_by aggregation contracts of spec.md §4.2.
type AggFunc string

const (
	AggSum    AggFunc = "sum"
	AggMin    AggFunc = "min"
	AggMax    AggFunc = "max"
	AggMean   AggFunc = "mean"
	AggMedian AggFunc = "median"
	AggCount  AggFunc = "count"
	AggNUniq  AggFunc = "n_unique"
	AggFirst  AggFunc = "first"
	AggLast   AggFunc = "last"
	AggConcat AggFunc = "concat"
)

var groupByAggTypes = map[AggFunc]bool{
	AggSum: true, AggMin: true, AggMax: true, AggMean: true, AggMedian: true,
	AggCount: true, AggNUniq: true, AggFirst: true, AggLast: true, AggConcat: true,
}

type aggregation struct {
	Column string  `json:"column"`
	Func   AggFunc `json:"func"`
	As     string  `json:"as,omitempty"`
}

type groupBySettings struct {
	GroupBy      []string      `json:"group_by"`
	Aggregations []aggregation `json:"aggregations"`
}

func aggOutputType(in models.Column, fn AggFunc) models.ColumnType {
	switch fn {
	case AggCount, AggNUniq:
		return models.ColumnInt64
	case AggConcat:
		return models.ColumnString
	case AggMean, AggMedian:
		return models.ColumnFloat64
	default:
		return in.Type
	}
}

func GroupBy() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "group_by",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryAggregate,
		Settings: []registry.FieldSpec{
			{Name: "group_by", Type: registry.FieldColumnSelector, Required: true},
			{Name: "aggregations", Type: registry.FieldArray, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set groupBySettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			in := firstInput(inputs)
			for _, name := range set.GroupBy {
				if _, ok := findColumn(in, name); !ok {
					return &models.ValidationError{Field: "group_by", Message: fmt.Sprintf("unknown column %q", name)}
				}
			}
			for _, agg := range set.Aggregations {
				if !groupByAggTypes[agg.Func] {
					return &models.ValidationError{Field: "aggregations", Message: fmt.Sprintf("unsupported aggregation %q", agg.Func)}
				}
				if agg.Func != AggCount {
					if _, ok := findColumn(in, agg.Column); !ok {
						return &models.ValidationError{Field: "aggregations", Message: fmt.Sprintf("unknown column %q", agg.Column)}
					}
				}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			var set groupBySettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			in := firstInput(inputs)
			out := models.Schema{}
			for _, name := range set.GroupBy {
				col, _ := findColumn(in, name)
				out.Columns = append(out.Columns, col)
			}
			for _, agg := range set.Aggregations {
				name := agg.As
				if name == "" {
					name = fmt.Sprintf("%s_%s", agg.Column, agg.Func)
				}
				var srcCol models.Column
				if agg.Func != AggCount {
					srcCol, _ = findColumn(in, agg.Column)
				}
				out.Columns = append(out.Columns, models.Column{Name: name, Type: aggOutputType(srcCol, agg.Func)})
			}
			return out, nil
		},
		BuildPlan: simplePlan("group_by"),
	}
}

// --- pivot / unpivot ------------------------------------------------------

type pivotSettings struct {
	IndexColumns  []string `json:"index_columns"`
	ColumnsColumn string   `json:"columns_column"`
	ValuesColumn  string   `json:"values_column"`
	Agg           AggFunc  `json:"agg,omitempty"`
}

// Pivot's output column set depends on distinct values of ColumnsColumn,
// which are only known at execution time. The store publishes the known
// index columns plus a single placeholder value column and the worker
// refines the real header when it materializes the artifact; downstream
// nodes referencing specific pivoted names must be re-validated after a
// run (documented open behavior, not silently dropped).
func Pivot() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "pivot",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryAggregate,
		Settings: []registry.FieldSpec{
			{Name: "index_columns", Type: registry.FieldColumnSelector, Required: true},
			{Name: "columns_column", Type: registry.FieldColumnSelector, Required: true},
			{Name: "values_column", Type: registry.FieldColumnSelector, Required: true},
			{Name: "agg", Type: registry.FieldSingleSelect, Default: "first"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set pivotSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			in := firstInput(inputs)
			for _, name := range append(append([]string{}, set.IndexColumns...), set.ColumnsColumn, set.ValuesColumn) {
				if _, ok := findColumn(in, name); !ok {
					return &models.ValidationError{Message: fmt.Sprintf("unknown column %q", name)}
				}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			var set pivotSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			in := firstInput(inputs)
			out := models.Schema{}
			for _, name := range set.IndexColumns {
				col, _ := findColumn(in, name)
				out.Columns = append(out.Columns, col)
			}
			valCol, _ := findColumn(in, set.ValuesColumn)
			out.Columns = append(out.Columns, models.Column{Name: "pivoted", Type: valCol.Type})
			return out, nil
		},
		BuildPlan: simplePlan("pivot"),
	}
}

type unpivotSettings struct {
	IndexColumns []string `json:"index_columns"`
	ValueColumns []string `json:"value_columns"`
	NameColumn   string   `json:"name_column"`
	ValueColumn  string   `json:"value_column"`
}

func Unpivot() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "unpivot",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryAggregate,
		Settings: []registry.FieldSpec{
			{Name: "index_columns", Type: registry.FieldColumnSelector, Required: true},
			{Name: "value_columns", Type: registry.FieldColumnSelector, Required: true},
			{Name: "name_column", Type: registry.FieldText, Default: "variable"},
			{Name: "value_column", Type: registry.FieldText, Default: "value"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set unpivotSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			in := firstInput(inputs)
			for _, name := range append(append([]string{}, set.IndexColumns...), set.ValueColumns...) {
				if _, ok := findColumn(in, name); !ok {
					return &models.ValidationError{Message: fmt.Sprintf("unknown column %q", name)}
				}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			var set unpivotSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			in := firstInput(inputs)
			out := models.Schema{}
			for _, name := range set.IndexColumns {
				col, _ := findColumn(in, name)
				out.Columns = append(out.Columns, col)
			}
			nameColumn := set.NameColumn
			if nameColumn == "" {
				nameColumn = "variable"
			}
			valueColumn := set.ValueColumn
			if valueColumn == "" {
				valueColumn = "value"
			}
			valType := models.ColumnString
			if len(set.ValueColumns) > 0 {
				if c, ok := findColumn(in, set.ValueColumns[0]); ok {
					valType = c.Type
				}
			}
			out.Columns = append(out.Columns,
				models.Column{Name: nameColumn, Type: models.ColumnString},
				models.Column{Name: valueColumn, Type: valType},
			)
			return out, nil
		},
		BuildPlan: simplePlan("unpivot"),
	}
}
