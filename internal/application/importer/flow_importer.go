// Package importer adapts a flow file between its canonical JSON shape
// (pkg/models.Flow's own json tags, what the core persists and serves) and
// a YAML rendering offered purely as an editing convenience.
package importer

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/smilemakc/mbflow/pkg/models"
)

// FromYAML parses a YAML flow document, converts it through the canonical
// JSON shape, and validates it the same way DeserializeFlow does.
func FromYAML(data []byte) (*models.Flow, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("importer: parse yaml: %w", err)
	}

	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("importer: re-encode yaml as json: %w", err)
	}

	flow, err := models.DeserializeFlow(asJSON)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	return flow, nil
}

// ToYAML renders a flow in its YAML form for download/editing.
func ToYAML(flow *models.Flow) ([]byte, error) {
	asJSON, err := flow.Serialize()
	if err != nil {
		return nil, fmt.Errorf("importer: serialize flow: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(asJSON, &generic); err != nil {
		return nil, fmt.Errorf("importer: decode flow json: %w", err)
	}

	out, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("importer: encode yaml: %w", err)
	}
	return out, nil
}
