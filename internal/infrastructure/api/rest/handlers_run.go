package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/mbflow/internal/application/eventbus"
	"github.com/smilemakc/mbflow/internal/application/scheduler"
	"github.com/smilemakc/mbflow/pkg/graphstore"
	"github.com/smilemakc/mbflow/pkg/models"
)

// RunHandler implements the run lifecycle endpoints of spec.md §6: start,
// cancel, and poll the status or preview of a flow's run.
type RunHandler struct {
	store  *graphstore.Store
	runner *scheduler.Runner
	bus    *eventbus.Bus
}

func NewRunHandler(store *graphstore.Store, runner *scheduler.Runner, bus *eventbus.Bus) *RunHandler {
	return &RunHandler{store: store, runner: runner, bus: bus}
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

// StartRun handles POST /flow/run/?flow_id=.
func (h *RunHandler) StartRun(c *gin.Context) {
	flowID, ok := queryInt64(c, "flow_id")
	if !ok {
		respondBadRequest(c, "flow_id is required")
		return
	}
	flow, err := h.store.Snapshot(flowID)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.store.Lock(flowID); err != nil {
		respondError(c, err)
		return
	}
	runID, err := h.runner.StartRun(flowID, flow.ExecutionMode)
	if err != nil {
		_ = h.store.Unlock(flowID)
		respondError(c, err)
		return
	}
	go h.unlockOnFinish(flowID, runID)

	c.JSON(http.StatusAccepted, startRunResponse{RunID: runID})
}

// unlockOnFinish releases the graph store's run-active lock once the run
// reaches RunFinished, by riding the same event stream a GET /flow/logs
// client would subscribe to rather than polling the snapshot.
func (h *RunHandler) unlockOnFinish(flowID int64, runID string) {
	defer func() { _ = h.store.Unlock(flowID) }()

	events, unsub, ok := h.bus.Subscribe(runID)
	if !ok {
		return
	}
	defer unsub()
	for evt := range events {
		if evt.Type == models.EventRunFinished {
			return
		}
	}
}

// CancelRun handles POST /flow/cancel/?flow_id=.
func (h *RunHandler) CancelRun(c *gin.Context) {
	flowID, ok := queryInt64(c, "flow_id")
	if !ok {
		respondBadRequest(c, "flow_id is required")
		return
	}
	runID, ok := h.runner.LatestRun(flowID)
	if !ok {
		respondError(c, models.ErrRunNotFound)
		return
	}
	if err := h.runner.CancelRun(runID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// RunStatus handles GET /flow/run_status?flow_id=, the "snapshot = latest
// replay" view of a flow's most recent run.
func (h *RunHandler) RunStatus(c *gin.Context) {
	flowID, ok := queryInt64(c, "flow_id")
	if !ok {
		respondBadRequest(c, "flow_id is required")
		return
	}
	runID, ok := h.runner.LatestRun(flowID)
	if !ok {
		respondError(c, models.ErrRunNotFound)
		return
	}
	snap, err := h.runner.Status(runID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// NodeData handles GET /node/data?flow_id=&node_id=, the cached preview of
// a node's output within the flow's most recent run.
func (h *RunHandler) NodeData(c *gin.Context) {
	flowID, ok := queryInt64(c, "flow_id")
	if !ok {
		respondBadRequest(c, "flow_id is required")
		return
	}
	nodeID, ok := queryInt64(c, "node_id")
	if !ok {
		respondBadRequest(c, "node_id is required")
		return
	}
	runID, ok := h.runner.LatestRun(flowID)
	if !ok {
		c.JSON(http.StatusOK, models.NodePreview{})
		return
	}
	preview, ok := h.runner.Preview(runID, nodeID)
	if !ok {
		c.JSON(http.StatusOK, models.NodePreview{})
		return
	}
	c.JSON(http.StatusOK, preview)
}
