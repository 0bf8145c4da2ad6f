package builtin

import (
	"encoding/json"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// databaseSettings is a JDBC-like reader/writer: either a free-form query
// or a (schema, table) pair, resolved against a named connection reference.
type databaseSettings struct {
	ConnectionRef string       `json:"connection_ref"`
	Query         string       `json:"query,omitempty"`
	Schema        string       `json:"schema,omitempty"`
	Table         string       `json:"table,omitempty"`
	Columns       []columnSpec `json:"columns,omitempty"`
	Mode          string       `json:"mode,omitempty"` // overwrite|append, for the writer
}

func DatabaseReader() registry.Descriptor {
	getCols := func(s json.RawMessage) ([]columnSpec, error) {
		var set databaseSettings
		if err := decode(s, &set); err != nil {
			return nil, err
		}
		return set.Columns, nil
	}
	return registry.Descriptor{
		Kind:     "database_reader",
		Shape:    registry.Shape{Inputs: 0, Outputs: 1},
		Category: registry.CategoryInput,
		Settings: []registry.FieldSpec{
			{Name: "connection_ref", Type: registry.FieldSecretRef, Required: true},
			{Name: "query", Type: registry.FieldText},
			{Name: "schema", Type: registry.FieldText},
			{Name: "table", Type: registry.FieldText},
			{Name: "columns", Type: registry.FieldArray, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 0); err != nil {
				return err
			}
			var set databaseSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.ConnectionRef == "" {
				return &models.ValidationError{Field: "connection_ref", Message: "required"}
			}
			if set.Query == "" && set.Table == "" {
				return &models.ValidationError{Message: "either query or (schema,table) is required"}
			}
			return nil
		},
		Propagate: declaredSchemaPropagate(getCols),
		BuildPlan: simplePlan("database_reader"),
	}
}

func DatabaseWriter() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "database_writer",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryOutput,
		Settings: []registry.FieldSpec{
			{Name: "connection_ref", Type: registry.FieldSecretRef, Required: true},
			{Name: "schema", Type: registry.FieldText},
			{Name: "table", Type: registry.FieldText, Required: true},
			{Name: "mode", Type: registry.FieldSingleSelect, Enum: []string{"overwrite", "append"}, Default: "append"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set databaseSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.ConnectionRef == "" || set.Table == "" {
				return &models.ValidationError{Message: "connection_ref and table are required"}
			}
			return nil
		},
		Propagate: passthroughSchema,
		BuildPlan: simplePlan("database_writer"),
	}
}
