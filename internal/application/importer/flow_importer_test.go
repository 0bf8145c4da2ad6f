package importer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/pkg/models"
)

func sampleFlow() *models.Flow {
	f := models.NewFlow(1, "demo")
	_ = f.AddNode(&models.Node{NodeID: 1, Kind: "read_csv", Settings: json.RawMessage(`{"path":"in.csv"}`)})
	_ = f.AddNode(&models.Node{NodeID: 2, Kind: "write_csv", Settings: json.RawMessage(`{"path":"out.csv"}`)})
	_ = f.AddEdge(&models.Edge{FromNode: 1, FromPort: "output-0", ToNode: 2, ToPort: "input-0"})
	return f
}

func TestToYAMLThenFromYAMLRoundTrips(t *testing.T) {
	flow := sampleFlow()

	yamlBytes, err := ToYAML(flow)
	require.NoError(t, err)
	assert.Contains(t, string(yamlBytes), "read_csv")

	roundTripped, err := FromYAML(yamlBytes)
	require.NoError(t, err)
	assert.Equal(t, flow.FlowID, roundTripped.FlowID)
	assert.Len(t, roundTripped.Nodes, 2)
	assert.Len(t, roundTripped.Edges, 1)
}

func TestFromYAMLRejectsInvalidFlow(t *testing.T) {
	_, err := FromYAML([]byte("flow_id: 1\nnodes: []\nedges:\n  - from_node: 9\n    to_node: 1\n"))
	assert.Error(t, err)
}

func TestFromYAMLRejectsMalformedYAML(t *testing.T) {
	_, err := FromYAML([]byte("not: [valid"))
	assert.Error(t, err)
}
