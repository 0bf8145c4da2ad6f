package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
)

// run is the Runner's per-execution state: a frozen flow snapshot, a
// mutable NodeRunState per node, a bounded permit pool, and a cancellation
// signal.
type run struct {
	id     string
	flowID int64
	mode   models.ExecutionMode

	flow *models.Flow

	mu        sync.Mutex
	nodes     map[int64]*models.NodeRecord
	previews  map[int64]*models.NodePreview
	status    models.RunStatus
	startedAt time.Time

	permits chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	doneCh   chan nodeOutcome
	seq      uint64
	finished chan struct{}

	log *logger.Logger
}

// nodeOutcome is delivered to the main loop when a dispatched node (or a
// synthetic cache hit) settles.
type nodeOutcome struct {
	nodeID   int64
	state    models.NodeRunState
	err      string
	artifact *models.Artifact
}

func newRun(flowID int64, flow *models.Flow, mode models.ExecutionMode, opts Options, log *logger.Logger) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.NewString(),
		flowID:    flowID,
		mode:      mode,
		flow:      flow,
		nodes:     make(map[int64]*models.NodeRecord, len(flow.Nodes)),
		previews:  make(map[int64]*models.NodePreview, len(flow.Nodes)),
		status:    models.RunActive,
		startedAt: time.Now(),
		permits:   make(chan struct{}, opts.MaxParallel),
		ctx:       ctx,
		cancel:    cancel,
		doneCh:    make(chan nodeOutcome, len(flow.Nodes)+1),
		finished:  make(chan struct{}),
		log:       log,
	}
	for _, n := range flow.Nodes {
		r.nodes[n.NodeID] = &models.NodeRecord{NodeID: n.NodeID, State: models.NodePending}
	}
	return r
}

func (r *run) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func (r *run) setState(nodeID int64, state models.NodeRunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.nodes[nodeID]
	rec.State = state
	now := time.Now()
	switch state {
	case models.NodeRunning:
		rec.StartedAt = &now
	default:
		if state.Terminal() {
			rec.FinishedAt = &now
		}
	}
}

func (r *run) recordArtifact(nodeID int64, a *models.Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID].Artifact = a
}

func (r *run) recordError(nodeID int64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID].Error = msg
}

func (r *run) state(nodeID int64) models.NodeRunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[nodeID].State
}

func (r *run) snapshot() *models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes := make(map[int64]*models.NodeRecord, len(r.nodes))
	for k, v := range r.nodes {
		cp := *v
		nodes[k] = &cp
	}
	return &models.Snapshot{
		RunID:     r.id,
		FlowID:    r.flowID,
		Status:    r.status,
		StartedAt: r.startedAt,
		Nodes:     nodes,
	}
}

// ready reports whether every parent of nodeID is Success or Cached and
// nodeID itself is still Pending — the ready rule of spec.md §4.3.
func (r *run) ready(nodeID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[nodeID].State != models.NodePending {
		return false
	}
	for _, parentID := range r.flow.ParentNodes(nodeID) {
		st := r.nodes[parentID].State
		if st != models.NodeSuccess && st != models.NodeCached {
			return false
		}
	}
	return true
}

func (r *run) anyActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.nodes {
		if rec.State == models.NodeRunning {
			return true
		}
	}
	return false
}

// aggregateStatus implements the terminal run status rules of spec.md §4.3.
func (r *run) aggregateStatus() models.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	anyFailed, anyCancelled := false, false
	for _, rec := range r.nodes {
		switch rec.State {
		case models.NodeFailed:
			anyFailed = true
		case models.NodeCancelled:
			anyCancelled = true
		}
	}
	switch {
	case anyFailed:
		return models.RunFailed
	case anyCancelled:
		return models.RunCancelled
	default:
		return models.RunSuccess
	}
}
