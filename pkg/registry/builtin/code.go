package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// polarsCodeSettings carries free-form dataframe code plus the names it binds
// its inputs to, in port order. Validate checks only that there is one name
// per connected input; the names are not compared with port labels.
type polarsCodeSettings struct {
	Source      string       `json:"source"`
	InputNames  []string     `json:"input_names"`
	OutputSpec  []columnSpec `json:"output_schema"`
}

func PolarsCode() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "polars_code",
		Shape:    registry.Shape{Inputs: -1, Outputs: 1},
		Category: registry.CategoryTransform,
		Settings: []registry.FieldSpec{
			{Name: "source", Type: registry.FieldText, Required: true},
			{Name: "input_names", Type: registry.FieldArray, Required: true},
			{Name: "output_schema", Type: registry.FieldArray, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			var set polarsCodeSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.Source == "" {
				return &models.ValidationError{Field: "source", Message: "required"}
			}
			if len(set.InputNames) != len(inputs) {
				return &models.ValidationError{Field: "input_names", Message: fmt.Sprintf("expected %d bound name(s), got %d", len(inputs), len(set.InputNames))}
			}
			if len(set.OutputSpec) == 0 {
				return &models.ValidationError{Field: "output_schema", Message: "at least one output column is required"}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			var set polarsCodeSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			return columnsToSchema(set.OutputSpec), nil
		},
		BuildPlan: simplePlan("polars_code"),
	}
}
