// Package scheduler is the Scheduler / Runner (C3): it executes a flow by
// topologically ordering nodes, dispatching ready nodes up to a bounded
// parallelism, and capturing per-node results.
//
// Unlike the wave-barrier DAG executor this package replaces, dispatch is
// continuous: a node becomes Ready and is dispatched the instant its
// parents finish, rather than waiting for every node at the same "wave" to
// complete first. This matches the ready-rule loop of spec.md §4.3.
package scheduler

import (
	"context"
	"time"

	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// GraphStore is the C1 dependency the scheduler snapshots a flow from.
type GraphStore interface {
	Snapshot(flowID int64) (*models.Flow, error)
	NodeSchema(flowID, nodeID int64) (models.Schema, error)
}

// Cache is the C5 dependency consulted before every dispatch.
type Cache interface {
	Lookup(hash string) (*models.Artifact, bool)
	Put(hash string, artifact *models.Artifact) error
	Pin(hash string)
}

// WorkerEventType mirrors the worker IPC frame tags relevant to the
// scheduler's progress relay.
type WorkerEventType string

const (
	WorkerStarted  WorkerEventType = "started"
	WorkerProgress WorkerEventType = "progress"
	WorkerLog      WorkerEventType = "log"
	WorkerDone     WorkerEventType = "done"
	WorkerError    WorkerEventType = "error"
)

// WorkerEvent is one event in a task's ordered progress stream.
type WorkerEvent struct {
	Type     WorkerEventType
	Rows     int64
	Bytes    int64
	Phase    string
	Level    string
	Message  string
	Artifact *models.Artifact
	ErrKind  models.ExecutionErrorKind
	ErrMsg   string
}

// WorkerClient is the C4 dependency that submits a plan and streams back
// its ordered progress events.
type WorkerClient interface {
	Submit(ctx context.Context, plan *registry.Plan, taskID string) (<-chan WorkerEvent, error)
	Cancel(taskID string)
}

// EventPublisher is the C6 dependency events are fanned out through.
type EventPublisher interface {
	Publish(evt models.Event)
}

// Options configures a Runner, mirroring the environment variables of
// spec.md §6.
type Options struct {
	MaxParallel    int
	TaskTimeout    time.Duration
	CancelGrace    time.Duration
	DevSampleRows  int64
	PreviewRows    int
}

// DefaultOptions mirrors the defaults spec.md names: parallelism equal to
// the number of CPU cores, a 30 minute task timeout, a 30 second
// cancellation grace period, and a 10000-row development sample.
func DefaultOptions(numCPU int) Options {
	return Options{
		MaxParallel:   numCPU,
		TaskTimeout:   30 * time.Minute,
		CancelGrace:   30 * time.Second,
		DevSampleRows: 10000,
		PreviewRows:   1000,
	}
}
