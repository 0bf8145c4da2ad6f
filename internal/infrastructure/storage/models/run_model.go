package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RunRecordModel is a terminal run's persisted summary, written once a run
// leaves Active so spec.md §4.6's retention window has something durable to
// serve after the in-memory run registry forgets the run.
type RunRecordModel struct {
	bun.BaseModel `bun:"table:flowfile_runs,alias:fr"`

	RunID     string     `bun:"run_id,pk" json:"run_id"`
	FlowID    int64      `bun:"flow_id,notnull" json:"flow_id"`
	Status    string     `bun:"status,notnull" json:"status"`
	StartedAt time.Time  `bun:"started_at,notnull" json:"started_at"`
	EndedAt   *time.Time `bun:"ended_at" json:"ended_at,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Nodes []*NodeRunRecordModel `bun:"rel:has-many,join:run_id=run_id" json:"nodes,omitempty"`
}

// TableName returns the table name for RunRecordModel.
func (RunRecordModel) TableName() string {
	return "flowfile_runs"
}

// BeforeInsert sets the creation timestamp.
func (r *RunRecordModel) BeforeInsert(ctx any) error {
	r.CreatedAt = time.Now()
	return nil
}

// NodeRunRecordModel is one node's terminal state within a persisted run.
type NodeRunRecordModel struct {
	bun.BaseModel `bun:"table:flowfile_run_nodes,alias:frn"`

	RunID      string     `bun:"run_id,pk" json:"run_id"`
	NodeID     int64      `bun:"node_id,pk" json:"node_id"`
	State      string     `bun:"state,notnull" json:"state"`
	Error      string     `bun:"error" json:"error,omitempty"`
	StartedAt  *time.Time `bun:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `bun:"finished_at" json:"finished_at,omitempty"`

	Run *RunRecordModel `bun:"rel:belongs-to,join:run_id=run_id" json:"-"`
}

// TableName returns the table name for NodeRunRecordModel.
func (NodeRunRecordModel) TableName() string {
	return "flowfile_run_nodes"
}
