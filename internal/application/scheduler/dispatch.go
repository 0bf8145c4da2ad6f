package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/pkg/models"
	"github.com/smilemakc/mbflow/pkg/registry"
)

// dispatch is the per-node dispatch of spec.md §4.3: compute the effective
// hash, try the cache, and on miss build a plan and submit it to the
// worker, relaying progress to the Event Bus until it settles.
func (rn *Runner) dispatch(r *run, nodeID int64) {
	defer func() { r.doneCh <- rn.run1(r, nodeID) }()
}

func (rn *Runner) run1(r *run, nodeID int64) nodeOutcome {
	select {
	case <-r.ctx.Done():
		return nodeOutcome{nodeID: nodeID, state: models.NodeSkipped}
	default:
	}

	r.setState(nodeID, models.NodeRunning)
	rn.bus.Publish(models.Event{Type: models.EventNodeStarted, RunID: r.id, FlowID: r.flowID, NodeID: nodeID, Seq: r.nextSeq(), Timestamp: time.Now()})

	node, err := r.flow.GetNode(nodeID)
	if err != nil {
		return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: err.Error()}
	}

	desc, err := rn.registry.Get(node.Kind)
	if err != nil {
		return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: err.Error()}
	}

	inputs := rn.resolveInputs(r, nodeID)

	settingsHash, err := models.SettingsHash(node.Kind, node.Settings)
	if err != nil {
		return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: err.Error()}
	}
	upstreamHashes := make([]string, len(inputs))
	for i, in := range inputs {
		if in.Artifact != nil {
			upstreamHashes[i] = in.Artifact.Hash
		}
	}
	effectiveHash := models.EffectiveHash(settingsHash, upstreamHashes)

	if artifact, hit := rn.cache.Lookup(effectiveHash); hit {
		rn.capturePreview(r, nodeID, artifact)
		if node.CacheResults {
			rn.cache.Pin(effectiveHash)
		}
		return nodeOutcome{nodeID: nodeID, state: models.NodeCached, artifact: artifact}
	}

	opts := registry.PlanOptions{Mode: r.mode}
	if r.mode == models.ModeDevelopment {
		opts.SampleRows = rn.opts.DevSampleRows
	}

	plan, err := desc.BuildPlan(nodeID, node.Settings, inputs, opts)
	if err != nil {
		return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: err.Error()}
	}

	if !rn.acquirePermit(r) {
		return nodeOutcome{nodeID: nodeID, state: models.NodeCancelled}
	}
	defer rn.releasePermit(r)

	taskID := uuid.NewString()
	ctx, cancel := context.WithTimeout(r.ctx, rn.opts.TaskTimeout)
	defer cancel()

	events, err := rn.worker.Submit(ctx, plan, taskID)
	if err != nil {
		return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: err.Error()}
	}

	for {
		select {
		case <-r.ctx.Done():
			rn.worker.Cancel(taskID)
			return rn.awaitCancellation(r, nodeID, taskID, events)

		case evt, ok := <-events:
			if !ok {
				return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: "worker closed the task stream without a terminal frame"}
			}
			switch evt.Type {
			case WorkerProgress:
				rn.bus.Publish(models.Event{Type: models.EventNodeProgress, RunID: r.id, FlowID: r.flowID, NodeID: nodeID, TaskID: taskID, Seq: r.nextSeq(), Timestamp: time.Now(), Rows: evt.Rows, Bytes: evt.Bytes, Phase: evt.Phase})
			case WorkerLog:
				rn.bus.Publish(models.Event{Type: models.EventNodeLog, RunID: r.id, FlowID: r.flowID, NodeID: nodeID, TaskID: taskID, Seq: r.nextSeq(), Timestamp: time.Now(), Level: evt.Level, Message: evt.Message})
			case WorkerDone:
				if err := rn.cache.Put(effectiveHash, evt.Artifact); err != nil {
					rn.log.Warn("cache put failed", "node_id", nodeID, "error", err)
				}
				if node.CacheResults {
					rn.cache.Pin(effectiveHash)
				}
				rn.capturePreview(r, nodeID, evt.Artifact)
				return nodeOutcome{nodeID: nodeID, state: models.NodeSuccess, artifact: evt.Artifact}
			case WorkerError:
				if evt.ErrKind == models.CancelledKind {
					return nodeOutcome{nodeID: nodeID, state: models.NodeCancelled, err: evt.ErrMsg}
				}
				return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: evt.ErrMsg}
			}
		}
	}
}

// awaitCancellation waits up to the configured grace period for the
// worker's cancelled-error acknowledgement before declaring the task
// worker-lost (spec.md §5).
func (rn *Runner) awaitCancellation(r *run, nodeID int64, taskID string, events <-chan WorkerEvent) nodeOutcome {
	timeout := time.After(rn.opts.CancelGrace)
	for {
		select {
		case <-timeout:
			return nodeOutcome{nodeID: nodeID, state: models.NodeFailed, err: string(models.WorkerLost)}
		case evt, ok := <-events:
			if !ok {
				return nodeOutcome{nodeID: nodeID, state: models.NodeCancelled}
			}
			if evt.Type == WorkerError {
				return nodeOutcome{nodeID: nodeID, state: models.NodeCancelled, err: evt.ErrMsg}
			}
		}
	}
}

// resolveInputs gathers a node's bound upstream artifacts in port order.
func (rn *Runner) resolveInputs(r *run, nodeID int64) []registry.PlanInput {
	var edges []*models.Edge
	for _, e := range r.flow.Edges {
		if e.ToNode == nodeID {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ToPort < edges[j].ToPort })

	inputs := make([]registry.PlanInput, len(edges))
	for i, e := range edges {
		r.mu.Lock()
		artifact := r.nodes[e.FromNode].Artifact
		r.mu.Unlock()
		inputs[i] = registry.PlanInput{Port: e.ToPort, Artifact: artifact}
	}
	return inputs
}

// capturePreview records the full schema of a successfully materialized
// node and marks its preview as available. It stores no rows: the record's
// Rows stay empty and PreviewRows is not read, and the façade's node-data
// endpoint returns this record as it is.
func (rn *Runner) capturePreview(r *run, nodeID int64, artifact *models.Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews[nodeID] = &models.NodePreview{
		Schema:                 artifact.Schema,
		HasExampleData:         true,
		HasRunWithCurrentSetup: true,
	}
}
