package builtin

import (
	"encoding/json"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// cloudStorageSettings points at an S3-compatible object, accessed by the
// worker through a named connection reference rather than inline
// credentials (secret-ref field, spec.md §4.2 / §1 non-goals).
type cloudStorageSettings struct {
	URI           string       `json:"uri"`
	ConnectionRef string       `json:"connection_ref"`
	Format        string       `json:"format"`
	Columns       []columnSpec `json:"columns,omitempty"`
}

func CloudStorageReader() registry.Descriptor {
	getCols := func(s json.RawMessage) ([]columnSpec, error) {
		var set cloudStorageSettings
		if err := decode(s, &set); err != nil {
			return nil, err
		}
		return set.Columns, nil
	}
	return registry.Descriptor{
		Kind:     "cloud_storage_reader",
		Shape:    registry.Shape{Inputs: 0, Outputs: 1},
		Category: registry.CategoryInput,
		Settings: []registry.FieldSpec{
			{Name: "uri", Type: registry.FieldText, Required: true},
			{Name: "connection_ref", Type: registry.FieldSecretRef, Required: true},
			{Name: "format", Type: registry.FieldSingleSelect, Enum: []string{"csv", "parquet", "json"}, Required: true},
			{Name: "columns", Type: registry.FieldArray, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 0); err != nil {
				return err
			}
			var set cloudStorageSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.URI == "" {
				return &models.ValidationError{Field: "uri", Message: "required"}
			}
			if set.ConnectionRef == "" {
				return &models.ValidationError{Field: "connection_ref", Message: "required"}
			}
			return nil
		},
		Propagate: declaredSchemaPropagate(getCols),
		BuildPlan: simplePlan("cloud_storage_reader"),
	}
}

// CloudStorageWriter's format enum lists json, but the worker writes only
// csv and parquet and fails a json write as an unsupported format.
func CloudStorageWriter() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "cloud_storage_writer",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryOutput,
		Settings: []registry.FieldSpec{
			{Name: "uri", Type: registry.FieldText, Required: true},
			{Name: "connection_ref", Type: registry.FieldSecretRef, Required: true},
			{Name: "format", Type: registry.FieldSingleSelect, Enum: []string{"csv", "parquet", "json"}, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set cloudStorageSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.URI == "" || set.ConnectionRef == "" {
				return &models.ValidationError{Message: "uri and connection_ref are required"}
			}
			return nil
		},
		Propagate: passthroughSchema,
		BuildPlan: simplePlan("cloud_storage_writer"),
	}
}
