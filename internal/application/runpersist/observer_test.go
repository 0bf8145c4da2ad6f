package runpersist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakePublisher) Publish(evt models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

type fakeRepo struct {
	mu   sync.Mutex
	runs []*storagemodels.RunRecordModel
}

func (f *fakeRepo) SaveTerminal(_ context.Context, run *storagemodels.RunRecordModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func TestObserverForwardsEveryEventToNext(t *testing.T) {
	next := &fakePublisher{}
	o := New(next, &fakeRepo{}, nil)

	o.Publish(models.Event{Type: models.EventRunStarted, RunID: "r1", FlowID: 1, Timestamp: time.Now()})
	o.Publish(models.Event{Type: models.EventNodeProgress, RunID: "r1", NodeID: 10, Timestamp: time.Now()})

	require.Len(t, next.events, 2)
}

func TestObserverPersistsTerminalRunWithNodeHistory(t *testing.T) {
	next := &fakePublisher{}
	repo := &fakeRepo{}
	o := New(next, repo, nil)

	o.Publish(models.Event{Type: models.EventRunStarted, RunID: "r1", FlowID: 7, Timestamp: time.Now()})
	o.Publish(models.Event{Type: models.EventNodeStarted, RunID: "r1", NodeID: 10, Timestamp: time.Now()})
	o.Publish(models.Event{Type: models.EventNodeFinished, RunID: "r1", NodeID: 10, State: models.NodeSuccess, Timestamp: time.Now()})
	o.Publish(models.Event{Type: models.EventRunFinished, RunID: "r1", FlowID: 7, State: models.NodeRunState(models.RunSuccess), Timestamp: time.Now()})

	require.Len(t, repo.runs, 1)
	run := repo.runs[0]
	assert.Equal(t, "r1", run.RunID)
	assert.Equal(t, int64(7), run.FlowID)
	assert.Equal(t, string(models.RunSuccess), run.Status)
	require.Len(t, run.Nodes, 1)
	assert.Equal(t, string(models.NodeSuccess), run.Nodes[0].State)
}

func TestObserverIgnoresRunFinishedWithoutMatchingStart(t *testing.T) {
	next := &fakePublisher{}
	repo := &fakeRepo{}
	o := New(next, repo, nil)

	o.Publish(models.Event{Type: models.EventRunFinished, RunID: "unknown", Timestamp: time.Now()})

	assert.Empty(t, repo.runs)
}
