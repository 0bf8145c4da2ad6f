package eventbus

import (
	"testing"
	"time"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReplaysEventsEmittedBeforeJoin(t *testing.T) {
	b := New(8, time.Minute, nil)
	b.Publish(models.Event{Type: models.EventRunStarted, RunID: "r1", FlowID: 1, Seq: 1, Timestamp: time.Now()})
	b.Publish(models.Event{Type: models.EventNodeStarted, RunID: "r1", FlowID: 1, NodeID: 10, Seq: 2, Timestamp: time.Now()})

	ch, unsub, ok := b.Subscribe("r1")
	require.True(t, ok)
	defer unsub()

	first := <-ch
	second := <-ch
	assert.Equal(t, models.EventRunStarted, first.Type)
	assert.Equal(t, models.EventNodeStarted, second.Type)
}

func TestSubscribeUnknownRunFails(t *testing.T) {
	b := New(8, time.Minute, nil)
	_, _, ok := b.Subscribe("missing")
	assert.False(t, ok)
}

func TestProgressDroppedUnderBackpressureButTerminalEventsSurvive(t *testing.T) {
	b := New(2, time.Minute, nil)
	b.Publish(models.Event{Type: models.EventRunStarted, RunID: "r1", FlowID: 1, Seq: 1, Timestamp: time.Now()})

	ch, unsub, ok := b.Subscribe("r1")
	require.True(t, ok)
	defer unsub()
	<-ch // drain the replayed RunStarted so the buffer has room to fill

	for i := 0; i < 10; i++ {
		b.Publish(models.Event{Type: models.EventNodeProgress, RunID: "r1", FlowID: 1, NodeID: 1, Seq: uint64(i + 2), Timestamp: time.Now()})
	}
	b.Publish(models.Event{Type: models.EventRunFinished, RunID: "r1", FlowID: 1, Seq: 100, Timestamp: time.Now()})

	var sawDropped, sawFinished bool
	timeout := time.After(time.Second)
	for !sawFinished {
		select {
		case evt := <-ch:
			if evt.Type == models.EventDropped {
				sawDropped = true
				assert.Greater(t, evt.DroppedCount, 0)
			}
			if evt.Type == models.EventRunFinished {
				sawFinished = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for RunFinished")
		}
	}
	assert.True(t, sawDropped, "expected a Dropped marker once progress events overflowed the buffer")
}

func TestReplayReturnsFullOrderedLog(t *testing.T) {
	b := New(8, time.Minute, nil)
	b.Publish(models.Event{Type: models.EventRunStarted, RunID: "r1", FlowID: 1, Seq: 1, Timestamp: time.Now()})
	b.Publish(models.Event{Type: models.EventRunFinished, RunID: "r1", FlowID: 1, Seq: 2, Timestamp: time.Now()})

	events, ok := b.Replay("r1")
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventRunStarted, events[0].Type)
	assert.Equal(t, models.EventRunFinished, events[1].Type)
}

func TestNewRunSupersedesPreviousTerminalRunOnSameFlow(t *testing.T) {
	b := New(8, time.Minute, nil)
	b.Publish(models.Event{Type: models.EventRunStarted, RunID: "r1", FlowID: 1, Seq: 1, Timestamp: time.Now()})
	b.Publish(models.Event{Type: models.EventRunFinished, RunID: "r1", FlowID: 1, Seq: 2, Timestamp: time.Now()})

	b.Publish(models.Event{Type: models.EventRunStarted, RunID: "r2", FlowID: 1, Seq: 1, Timestamp: time.Now()})
	b.Publish(models.Event{Type: models.EventRunFinished, RunID: "r2", FlowID: 1, Seq: 2, Timestamp: time.Now()})

	_, ok := b.Replay("r1")
	assert.False(t, ok, "r1's log should be evicted once r2 on the same flow went terminal")

	_, ok = b.Replay("r2")
	assert.True(t, ok)
}
