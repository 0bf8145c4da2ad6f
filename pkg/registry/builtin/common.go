// Package builtin provides the registry.Descriptor implementations for the
// node kinds spec.md §4.2 requires every compliant implementation to ship.
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// decode unmarshals a node's settings into a concrete struct, treating an
// empty record as the zero value.
func decode(settings json.RawMessage, out any) error {
	if len(settings) == 0 {
		return nil
	}
	if err := json.Unmarshal(settings, out); err != nil {
		return &models.ValidationError{Message: fmt.Sprintf("invalid settings: %v", err)}
	}
	return nil
}

// requireInputs fails validation/propagation early when a kind's shape
// contract is violated.
func requireInputs(inputs []models.Schema, n int) error {
	if len(inputs) != n {
		return &models.ValidationError{Message: fmt.Sprintf("expected %d input(s), got %d", n, len(inputs))}
	}
	return nil
}

func firstInput(inputs []models.Schema) models.Schema {
	if len(inputs) == 0 {
		return models.Schema{}
	}
	return inputs[0]
}

// findColumn looks up a column by name in a schema.
func findColumn(s models.Schema, name string) (models.Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return models.Column{}, false
}

func MustEncode(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
