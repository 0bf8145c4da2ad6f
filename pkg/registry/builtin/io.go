package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// columnSpec is the shape every reader/manual-input kind uses to declare
// its output schema in settings: source nodes have no upstream schemas to
// derive from, so propagation is a pure read of this field.
type columnSpec struct {
	Name string            `json:"name"`
	Type models.ColumnType `json:"type"`
}

func columnsToSchema(cols []columnSpec) models.Schema {
	out := models.Schema{Columns: make([]models.Column, len(cols))}
	for i, c := range cols {
		out.Columns[i] = models.Column{Name: c.Name, Type: c.Type}
	}
	return out
}

func declaredSchemaPropagate(getColumns func(json.RawMessage) ([]columnSpec, error)) registry.PropagateFunc {
	return func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
		cols, err := getColumns(settings)
		if err != nil {
			return models.Schema{}, err
		}
		if len(cols) == 0 {
			return models.Schema{}, &models.ValidationError{Field: "columns", Message: "at least one column must be declared"}
		}
		return columnsToSchema(cols), nil
	}
}

// --- manual_input -----------------------------------------------------

type manualInputSettings struct {
	Columns []columnSpec     `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func ManualInput() registry.Descriptor {
	getCols := func(s json.RawMessage) ([]columnSpec, error) {
		var set manualInputSettings
		if err := decode(s, &set); err != nil {
			return nil, err
		}
		return set.Columns, nil
	}
	return registry.Descriptor{
		Kind:     "manual_input",
		Shape:    registry.Shape{Inputs: 0, Outputs: 1},
		Category: registry.CategoryInput,
		Settings: []registry.FieldSpec{
			{Name: "columns", Type: registry.FieldArray, Required: true},
			{Name: "rows", Type: registry.FieldArray, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 0); err != nil {
				return err
			}
			_, err := getCols(settings)
			return err
		},
		Propagate: declaredSchemaPropagate(getCols),
		BuildPlan: func(nodeID int64, settings json.RawMessage, inputs []registry.PlanInput, opts registry.PlanOptions) (*registry.Plan, error) {
			return &registry.Plan{Kind: "manual_input", NodeID: nodeID, Settings: settings, Inputs: inputs, Options: opts}, nil
		},
	}
}

// --- file readers (read_csv / read_parquet / read_json / read_excel) --

type fileReaderSettings struct {
	Path      string       `json:"path"`
	Columns   []columnSpec `json:"columns"`
	Delimiter string       `json:"delimiter,omitempty"`
	Encoding  string       `json:"encoding,omitempty"`
	SkipLines int          `json:"skip_lines,omitempty"`
	Sheet     string       `json:"sheet,omitempty"`
	JSONPath  string       `json:"json_path,omitempty"`
}

func fileReader(kind string) registry.Descriptor {
	getCols := func(s json.RawMessage) ([]columnSpec, error) {
		var set fileReaderSettings
		if err := decode(s, &set); err != nil {
			return nil, err
		}
		return set.Columns, nil
	}
	return registry.Descriptor{
		Kind:     kind,
		Shape:    registry.Shape{Inputs: 0, Outputs: 1},
		Category: registry.CategoryInput,
		Settings: []registry.FieldSpec{
			{Name: "path", Type: registry.FieldText, Required: true},
			{Name: "columns", Type: registry.FieldArray, Required: true},
			{Name: "delimiter", Type: registry.FieldText},
			{Name: "encoding", Type: registry.FieldText},
			{Name: "skip_lines", Type: registry.FieldNumeric},
			{Name: "sheet", Type: registry.FieldText},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 0); err != nil {
				return err
			}
			var set fileReaderSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.Path == "" {
				return &models.ValidationError{Field: "path", Message: "path is required"}
			}
			if len(set.Columns) == 0 {
				return &models.ValidationError{Field: "columns", Message: "at least one column must be declared"}
			}
			return nil
		},
		Propagate: declaredSchemaPropagate(getCols),
		BuildPlan: func(nodeID int64, settings json.RawMessage, inputs []registry.PlanInput, opts registry.PlanOptions) (*registry.Plan, error) {
			return &registry.Plan{Kind: kind, NodeID: nodeID, Settings: settings, Inputs: inputs, Options: opts}, nil
		},
	}
}

func ReadCSV() registry.Descriptor     { return fileReader("read_csv") }
func ReadParquet() registry.Descriptor { return fileReader("read_parquet") }
func ReadJSON() registry.Descriptor    { return fileReader("read_json") }
func ReadExcel() registry.Descriptor   { return fileReader("read_excel") }

// --- output -------------------------------------------------------------

// WriteMode is the write-mode semantics of the output writer node. Whether
// append is schema-stable is an open policy decision left to the writer,
// not the scheduler (spec.md §9). The worker's output writer does not apply
// the mode: every write replaces the target file.
type WriteMode string

const (
	WriteOverwrite WriteMode = "overwrite"
	WriteNewFile   WriteMode = "new-file"
	WriteAppend    WriteMode = "append"
)

type outputSettings struct {
	Path            string                `json:"path"`
	Format          models.ArtifactFormat `json:"format"`
	Mode            WriteMode             `json:"mode"`
	OnSchemaMismatch string               `json:"on_schema_mismatch,omitempty"` // fail|coerce
}

func Output() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "output",
		Shape:    registry.Shape{Inputs: 1, Outputs: 1},
		Category: registry.CategoryOutput,
		Settings: []registry.FieldSpec{
			{Name: "path", Type: registry.FieldText, Required: true},
			{Name: "format", Type: registry.FieldSingleSelect, Enum: []string{"csv", "parquet", "ipc"}, Required: true},
			{Name: "mode", Type: registry.FieldSingleSelect, Enum: []string{"overwrite", "new-file", "append"}, Default: "overwrite"},
			{Name: "on_schema_mismatch", Type: registry.FieldSingleSelect, Enum: []string{"fail", "coerce"}, Default: "fail"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 1); err != nil {
				return err
			}
			var set outputSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if set.Path == "" {
				return &models.ValidationError{Field: "path", Message: "path is required"}
			}
			switch set.Format {
			case models.FormatCSV, models.FormatParquet, models.FormatIPC:
			default:
				return &models.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported format %q", set.Format)}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 1); err != nil {
				return models.Schema{}, err
			}
			return firstInput(inputs), nil
		},
		BuildPlan: func(nodeID int64, settings json.RawMessage, inputs []registry.PlanInput, opts registry.PlanOptions) (*registry.Plan, error) {
			return &registry.Plan{Kind: "output", NodeID: nodeID, Settings: settings, Inputs: inputs, Options: opts}, nil
		},
	}
}
