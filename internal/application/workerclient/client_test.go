package workerclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/mbflow/internal/application/scheduler"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/registry"
)

func TestClient_Submit_ErrorsWhenNotStarted(t *testing.T) {
	c := New([]string{"/bin/does-not-matter"}, logger.Default())

	_, err := c.Submit(context.Background(), &registry.Plan{Kind: "filter"}, "t-1")

	assert.Error(t, err)
}

func TestClient_New_ConfiguresCommand(t *testing.T) {
	c := New([]string{"cat"}, logger.Default())

	assert.Equal(t, []string{"cat"}, c.command)
}

// TestClient_HandleFrame_RoutesDoneToChannel exercises handleFrame directly
// against a synthetic pending entry, without spawning a real subprocess.
func TestClient_HandleFrame_RoutesDoneToChannel(t *testing.T) {
	c := New(nil, logger.Default())
	ch := make(chan Event, 1)
	c.mu.Lock()
	c.pending["t-1"] = ch
	c.mu.Unlock()

	schema, _ := json.Marshal(struct{}{})
	c.handleFrame(doneFrame(t, "t-1", "hash-1", schema))

	select {
	case evt := <-ch:
		assert.Equal(t, scheduler.WorkerDone, evt.Type)
		require.NotNil(t, evt.Artifact)
		assert.Equal(t, "hash-1", evt.Artifact.Hash)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for done event")
	}
}
