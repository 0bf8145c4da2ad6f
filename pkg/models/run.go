package models

import "time"

// NodeRunState is a node's position in the per-run state machine.
type NodeRunState string

const (
	NodePending   NodeRunState = "Pending"
	NodeReady     NodeRunState = "Ready"
	NodeRunning   NodeRunState = "Running"
	NodeSuccess   NodeRunState = "Success"
	NodeCached    NodeRunState = "Cached"
	NodeFailed    NodeRunState = "Failed"
	NodeCancelled NodeRunState = "Cancelled"
	NodeSkipped   NodeRunState = "Skipped"
)

// Terminal reports whether the state is one a node does not leave.
func (s NodeRunState) Terminal() bool {
	switch s {
	case NodeSuccess, NodeCached, NodeFailed, NodeCancelled, NodeSkipped:
		return true
	default:
		return false
	}
}

// RunStatus is a run's aggregate terminal status, per spec §4.3.
type RunStatus string

const (
	RunActive    RunStatus = "Active"
	RunSuccess   RunStatus = "Success"
	RunFailed    RunStatus = "Failed"
	RunCancelled RunStatus = "Cancelled"
)

// NodePreview is the cached preview surfaced by GET /node/data: up to N
// rows plus the node's full schema.
type NodePreview struct {
	Schema                Schema            `json:"schema"`
	Rows                  []map[string]any  `json:"rows"`
	HasExampleData        bool              `json:"has_example_data"`
	HasRunWithCurrentSetup bool             `json:"has_run_with_current_setup"`
}

// NodeRecord is the Runner's per-node bookkeeping for one run.
type NodeRecord struct {
	NodeID   int64        `json:"node_id"`
	State    NodeRunState `json:"state"`
	Error    string       `json:"error,omitempty"`
	Artifact *Artifact    `json:"artifact,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot is the run-status view returned by GET /flow/run_status and by
// long-polling clients ("snapshot = latest replay").
type Snapshot struct {
	RunID     string                 `json:"run_id"`
	FlowID    int64                  `json:"flow_id"`
	Status    RunStatus              `json:"status"`
	StartedAt time.Time              `json:"started_at"`
	Nodes     map[int64]*NodeRecord  `json:"nodes"`
	LogTail   []string               `json:"log_tail"`
}

// EventType enumerates the Event Bus's fixed event shapes.
type EventType string

const (
	EventRunStarted    EventType = "RunStarted"
	EventNodeStarted   EventType = "NodeStarted"
	EventNodeProgress  EventType = "NodeProgress"
	EventNodeLog       EventType = "NodeLog"
	EventNodeFinished  EventType = "NodeFinished"
	EventRunFinished   EventType = "RunFinished"
	EventDropped       EventType = "Dropped"
)

// Event is the single shape carried on the Event Bus. Fields not relevant
// to Type are left zero.
type Event struct {
	Type      EventType    `json:"type"`
	RunID     string       `json:"run_id"`
	FlowID    int64        `json:"flow_id,omitempty"`
	NodeID    int64        `json:"node_id,omitempty"`
	TaskID    string       `json:"task_id,omitempty"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`

	// NodeFinished / RunFinished
	State NodeRunState `json:"state,omitempty"`
	Error string       `json:"error,omitempty"`

	// NodeProgress
	Rows  int64 `json:"rows,omitempty"`
	Bytes int64 `json:"bytes,omitempty"`
	Phase string `json:"phase,omitempty"`

	// NodeLog
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	// Dropped
	DroppedCount int `json:"dropped_count,omitempty"`
}
