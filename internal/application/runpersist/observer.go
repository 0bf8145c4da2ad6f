// Package runpersist wraps the event bus with a durable record of each
// run's terminal outcome, grounded on spec.md §4.6's retention window: once
// the in-memory bus forgets a run, a client that asks about it later should
// still get an answer.
package runpersist

import (
	"context"
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/application/scheduler"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	storagemodels "github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/smilemakc/mbflow/pkg/models"
)

// Repository is the persistence dependency, satisfied by
// internal/infrastructure/storage.RunRepository.
type Repository interface {
	SaveTerminal(ctx context.Context, run *storagemodels.RunRecordModel) error
}

// Observer decorates a scheduler.EventPublisher, forwarding every event
// unchanged and additionally accumulating per-node state so it can write a
// durable row once a run goes terminal.
type Observer struct {
	next scheduler.EventPublisher
	repo Repository
	log  *logger.Logger

	mu   sync.Mutex
	runs map[string]*accumulator
}

type accumulator struct {
	flowID    int64
	startedAt time.Time
	nodes     map[int64]*storagemodels.NodeRunRecordModel
}

// New wraps next so both it and a durable store observe every event.
func New(next scheduler.EventPublisher, repo Repository, log *logger.Logger) *Observer {
	return &Observer{
		next: next,
		repo: repo,
		log:  log,
		runs: make(map[string]*accumulator),
	}
}

// Publish implements scheduler.EventPublisher.
func (o *Observer) Publish(evt models.Event) {
	o.next.Publish(evt)
	o.accumulate(evt)
}

func (o *Observer) accumulate(evt models.Event) {
	switch evt.Type {
	case models.EventRunStarted:
		o.mu.Lock()
		o.runs[evt.RunID] = &accumulator{
			flowID:    evt.FlowID,
			startedAt: evt.Timestamp,
			nodes:     make(map[int64]*storagemodels.NodeRunRecordModel),
		}
		o.mu.Unlock()

	case models.EventNodeStarted:
		o.mu.Lock()
		if acc, ok := o.runs[evt.RunID]; ok {
			startedAt := evt.Timestamp
			acc.nodes[evt.NodeID] = &storagemodels.NodeRunRecordModel{
				RunID:     evt.RunID,
				NodeID:    evt.NodeID,
				State:     string(models.NodeRunning),
				StartedAt: &startedAt,
			}
		}
		o.mu.Unlock()

	case models.EventNodeFinished:
		o.mu.Lock()
		if acc, ok := o.runs[evt.RunID]; ok {
			finishedAt := evt.Timestamp
			n, ok := acc.nodes[evt.NodeID]
			if !ok {
				n = &storagemodels.NodeRunRecordModel{RunID: evt.RunID, NodeID: evt.NodeID}
				acc.nodes[evt.NodeID] = n
			}
			n.State = string(evt.State)
			n.Error = evt.Error
			n.FinishedAt = &finishedAt
		}
		o.mu.Unlock()

	case models.EventRunFinished:
		o.mu.Lock()
		acc, ok := o.runs[evt.RunID]
		if ok {
			delete(o.runs, evt.RunID)
		}
		o.mu.Unlock()
		if !ok {
			return
		}
		o.flush(evt, acc)
	}
}

func (o *Observer) flush(evt models.Event, acc *accumulator) {
	endedAt := evt.Timestamp
	run := &storagemodels.RunRecordModel{
		RunID:     evt.RunID,
		FlowID:    acc.flowID,
		Status:    string(evt.State),
		StartedAt: acc.startedAt,
		EndedAt:   &endedAt,
	}
	for _, n := range acc.nodes {
		run.Nodes = append(run.Nodes, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.repo.SaveTerminal(ctx, run); err != nil {
		o.log.Error("persist terminal run failed", "run_id", evt.RunID, "error", err)
	}
}
