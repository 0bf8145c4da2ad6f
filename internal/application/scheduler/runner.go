package scheduler

import (
	"sync"
	"time"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// Runner is the Scheduler / Runner component (C3). One Runner serves every
// flow in the process; at most one active run per flow is enforced here.
type Runner struct {
	store    GraphStore
	registry registry.Registry
	cache    Cache
	worker   WorkerClient
	bus      EventPublisher
	opts     Options
	log      *logger.Logger

	mu           sync.Mutex
	activeByFlow map[int64]string
	lastByFlow   map[int64]string
	runs         map[string]*run
}

// New constructs a Runner over its C1/C2/C4/C5/C6 collaborators.
func New(store GraphStore, reg registry.Registry, cache Cache, worker WorkerClient, bus EventPublisher, opts Options, log *logger.Logger) *Runner {
	return &Runner{
		store:        store,
		registry:     reg,
		cache:        cache,
		worker:       worker,
		bus:          bus,
		opts:         opts,
		log:          log,
		activeByFlow: make(map[int64]string),
		lastByFlow:   make(map[int64]string),
		runs:         make(map[string]*run),
	}
}

// LatestRun returns the most recent run id started for a flow, whether or
// not it has finished yet, letting HTTP handlers resolve flow-scoped
// endpoints (status, cancel, logs) without the caller tracking run ids.
func (rn *Runner) LatestRun(flowID int64) (string, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if id, ok := rn.activeByFlow[flowID]; ok {
		return id, true
	}
	id, ok := rn.lastByFlow[flowID]
	return id, ok
}

// StartRun snapshots the flow, validates it is acyclic, and launches the
// main dispatch loop in the background. It fails if a run is already
// active for the flow.
func (rn *Runner) StartRun(flowID int64, mode models.ExecutionMode) (string, error) {
	flow, err := rn.store.Snapshot(flowID)
	if err != nil {
		return "", err
	}
	if _, err := flow.TopoSort(); err != nil {
		return "", err
	}

	rn.mu.Lock()
	if _, active := rn.activeByFlow[flowID]; active {
		rn.mu.Unlock()
		return "", models.ErrRunAlreadyActive
	}
	r := newRun(flowID, flow, mode, rn.opts, rn.log)
	rn.activeByFlow[flowID] = r.id
	rn.runs[r.id] = r
	rn.mu.Unlock()

	rn.bus.Publish(models.Event{Type: models.EventRunStarted, RunID: r.id, FlowID: flowID, Seq: r.nextSeq(), Timestamp: time.Now()})

	go rn.mainLoop(r)

	return r.id, nil
}

// CancelRun sets the run's cancellation token. It is idempotent.
func (rn *Runner) CancelRun(runID string) error {
	rn.mu.Lock()
	r, ok := rn.runs[runID]
	rn.mu.Unlock()
	if !ok {
		return models.ErrRunNotFound
	}
	r.cancel()
	return nil
}

// Status returns the latest snapshot for a run — "snapshot = latest
// replay", serving both polling and the initial frame of a streamed
// subscription.
func (rn *Runner) Status(runID string) (*models.Snapshot, error) {
	rn.mu.Lock()
	r, ok := rn.runs[runID]
	rn.mu.Unlock()
	if !ok {
		return nil, models.ErrRunNotFound
	}
	return r.snapshot(), nil
}

// Preview returns the cached preview for a node of a run, if any.
func (rn *Runner) Preview(runID string, nodeID int64) (*models.NodePreview, bool) {
	rn.mu.Lock()
	r, ok := rn.runs[runID]
	rn.mu.Unlock()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.previews[nodeID]
	return p, ok
}

// mainLoop is the ready-rule dispatch loop of spec.md §4.3: it starts every
// initially-ready node, then on each completion recomputes readiness for
// successors and dispatches newly ready nodes until the permit pool is
// saturated, until no node is Running and no node is Ready.
func (rn *Runner) mainLoop(r *run) {
	defer rn.finalize(r)

	inFlight := 0
	dispatchReady := func() {
		for _, n := range r.flow.Nodes {
			if r.ready(n.NodeID) {
				r.setState(n.NodeID, models.NodeReady)
				inFlight++
				go rn.dispatch(r, n.NodeID)
			}
		}
	}

	dispatchReady()

	for inFlight > 0 {
		outcome := <-r.doneCh
		inFlight--

		r.setState(outcome.nodeID, outcome.state)
		if outcome.artifact != nil {
			r.recordArtifact(outcome.nodeID, outcome.artifact)
		}
		if outcome.err != "" {
			r.recordError(outcome.nodeID, outcome.err)
		}

		rn.bus.Publish(models.Event{
			Type: models.EventNodeFinished, RunID: r.id, FlowID: r.flowID, NodeID: outcome.nodeID,
			Seq: r.nextSeq(), Timestamp: time.Now(), State: outcome.state, Error: outcome.err,
		})

		if outcome.state == models.NodeFailed || outcome.state == models.NodeCancelled {
			rn.skipDescendants(r, outcome.nodeID)
		}

		select {
		case <-r.ctx.Done():
			// no new dispatches once cancellation fires.
		default:
			dispatchReady()
		}
	}
}

// skipDescendants marks every unreached descendant of a failed or
// cancelled node as Skipped — failure policy of spec.md §4.3: siblings
// that do not depend on the failure continue untouched.
func (rn *Runner) skipDescendants(r *run, nodeID int64) {
	var walk func(int64)
	visited := map[int64]bool{}
	walk = func(id int64) {
		for _, child := range r.flow.ChildNodes(id) {
			if visited[child] {
				continue
			}
			visited[child] = true
			if r.state(child) == models.NodePending {
				r.setState(child, models.NodeSkipped)
				rn.bus.Publish(models.Event{
					Type: models.EventNodeFinished, RunID: r.id, FlowID: r.flowID, NodeID: child,
					Seq: r.nextSeq(), Timestamp: time.Now(), State: models.NodeSkipped,
				})
			}
			walk(child)
		}
	}
	walk(nodeID)
}

func (rn *Runner) finalize(r *run) {
	status := r.aggregateStatus()
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	rn.bus.Publish(models.Event{Type: models.EventRunFinished, RunID: r.id, FlowID: r.flowID, Seq: r.nextSeq(), Timestamp: time.Now(), State: models.NodeRunState(status)})

	rn.mu.Lock()
	if rn.activeByFlow[r.flowID] == r.id {
		delete(rn.activeByFlow, r.flowID)
	}
	rn.lastByFlow[r.flowID] = r.id
	rn.mu.Unlock()
	close(r.finished)
}

func (rn *Runner) acquirePermit(r *run) bool {
	select {
	case r.permits <- struct{}{}:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (rn *Runner) releasePermit(r *run) {
	<-r.permits
}
