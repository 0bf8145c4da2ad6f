package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// JoinType enumerates the join semantics spec.md §4.2 requires.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
	JoinSemi  JoinType = "semi"
	JoinAnti  JoinType = "anti"
)

type joinKeyPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type joinSettings struct {
	How          JoinType      `json:"how"`
	On           []joinKeyPair `json:"on"`
	SuffixLeft   string        `json:"suffix_left,omitempty"`
	SuffixRight  string        `json:"suffix_right,omitempty"`
}

// Join is the two-input main/right combine node. Port input-0 is main,
// input-1 is right.
func Join() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "join",
		Shape:    registry.Shape{Inputs: 1, HasRightInput: true, Outputs: 1},
		Category: registry.CategoryCombine,
		Settings: []registry.FieldSpec{
			{Name: "how", Type: registry.FieldSingleSelect, Enum: []string{"inner", "left", "right", "full", "semi", "anti"}, Required: true},
			{Name: "on", Type: registry.FieldArray, Required: true},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if err := requireInputs(inputs, 2); err != nil {
				return err
			}
			var set joinSettings
			if err := decode(settings, &set); err != nil {
				return err
			}
			if len(set.On) == 0 {
				return &models.ValidationError{Field: "on", Message: "at least one key pair is required"}
			}
			left, right := inputs[0], inputs[1]
			for _, pair := range set.On {
				if _, ok := findColumn(left, pair.Left); !ok {
					return &models.ValidationError{Field: "on", Message: fmt.Sprintf("unknown left column %q", pair.Left)}
				}
				if _, ok := findColumn(right, pair.Right); !ok {
					return &models.ValidationError{Field: "on", Message: fmt.Sprintf("unknown right column %q", pair.Right)}
				}
			}
			switch set.How {
			case JoinInner, JoinLeft, JoinRight, JoinFull, JoinSemi, JoinAnti:
			default:
				return &models.ValidationError{Field: "how", Message: fmt.Sprintf("unsupported join type %q", set.How)}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if err := requireInputs(inputs, 2); err != nil {
				return models.Schema{}, err
			}
			var set joinSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			left, right := inputs[0], inputs[1]
			if set.How == JoinSemi || set.How == JoinAnti {
				return left, nil
			}
			suffixL, suffixR := set.SuffixLeft, set.SuffixRight
			if suffixL == "" {
				suffixL = "_left"
			}
			if suffixR == "" {
				suffixR = "_right"
			}
			leftNames := make(map[string]bool, len(left.Columns))
			for _, c := range left.Columns {
				leftNames[c.Name] = true
			}
			out := models.Schema{Columns: append([]models.Column{}, left.Columns...)}
			for _, c := range right.Columns {
				if leftNames[c.Name] {
					c.Name = c.Name + suffixR
				}
				out.Columns = append(out.Columns, c)
			}
			return out, nil
		},
		BuildPlan: simplePlan("join"),
	}
}

func CrossJoin() registry.Descriptor {
	d := Join()
	d.Kind = "cross_join"
	d.Validate = func(settings json.RawMessage, inputs []models.Schema) error {
		return requireInputs(inputs, 2)
	}
	d.Propagate = func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
		if err := requireInputs(inputs, 2); err != nil {
			return models.Schema{}, err
		}
		left, right := inputs[0], inputs[1]
		out := models.Schema{Columns: append([]models.Column{}, left.Columns...)}
		out.Columns = append(out.Columns, right.Columns...)
		return out, nil
	}
	d.BuildPlan = simplePlan("cross_join")
	return d
}

// --- union ------------------------------------------------------------

type unionSettings struct {
	Mode string `json:"mode"` // diagonal|relaxed
}

// Union is variadic (Inputs: -1): each upstream connects to its own input
// port (input-0, input-1, …), since an input port accepts only one edge.
func Union() registry.Descriptor {
	return registry.Descriptor{
		Kind:     "union",
		Shape:    registry.Shape{Inputs: -1, Outputs: 1},
		Category: registry.CategoryCombine,
		Settings: []registry.FieldSpec{
			{Name: "mode", Type: registry.FieldSingleSelect, Enum: []string{"diagonal", "relaxed"}, Default: "relaxed"},
		},
		Validate: func(settings json.RawMessage, inputs []models.Schema) error {
			if len(inputs) == 0 {
				return &models.ValidationError{Message: "union requires at least one input"}
			}
			return nil
		},
		Propagate: func(settings json.RawMessage, inputs []models.Schema) (models.Schema, error) {
			if len(inputs) == 0 {
				return models.Schema{}, &models.ValidationError{Message: "union requires at least one input"}
			}
			var set unionSettings
			if err := decode(settings, &set); err != nil {
				return models.Schema{}, err
			}
			if set.Mode == "diagonal" {
				seen := map[string]models.Column{}
				var order []string
				for _, s := range inputs {
					for _, c := range s.Columns {
						if _, ok := seen[c.Name]; !ok {
							order = append(order, c.Name)
						}
						seen[c.Name] = c
					}
				}
				out := models.Schema{}
				for _, name := range order {
					out.Columns = append(out.Columns, seen[name])
				}
				return out, nil
			}
			// relaxed: every input must share the first input's columns.
			return inputs[0], nil
		},
		BuildPlan: simplePlan("union"),
	}
}
