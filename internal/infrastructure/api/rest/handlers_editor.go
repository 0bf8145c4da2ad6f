package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/mbflow/pkg/graphstore"
	"github.com/smilemakc/mbflow/pkg/models"
)

// EditorHandler implements the graph-editing endpoints of spec.md §6: add
// or remove a node, connect or disconnect two ports, and push new settings
// through the schema propagator.
type EditorHandler struct {
	store *graphstore.Store
}

func NewEditorHandler(store *graphstore.Store) *EditorHandler {
	return &EditorHandler{store: store}
}

type addNodeRequest struct {
	FlowID   int64           `json:"flow_id" binding:"required"`
	NodeID   int64           `json:"node_id" binding:"required"`
	Kind     string          `json:"kind" binding:"required"`
	Position models.Position `json:"position"`
	Settings json.RawMessage `json:"settings"`
}

// AddNode handles POST /editor/add_node.
func (h *EditorHandler) AddNode(c *gin.Context) {
	var req addNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	node := &models.Node{
		NodeID:   req.NodeID,
		Kind:     req.Kind,
		Position: req.Position,
		Settings: req.Settings,
	}
	if err := h.store.AddNode(req.FlowID, node); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

type deleteNodeRequest struct {
	FlowID int64 `json:"flow_id" binding:"required"`
	NodeID int64 `json:"node_id" binding:"required"`
}

// DeleteNode handles POST /editor/delete_node.
func (h *EditorHandler) DeleteNode(c *gin.Context) {
	var req deleteNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if err := h.store.DeleteNode(req.FlowID, req.NodeID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type connectionRequest struct {
	FlowID   int64  `json:"flow_id" binding:"required"`
	FromNode int64  `json:"from_node" binding:"required"`
	FromPort string `json:"from_port" binding:"required"`
	ToNode   int64  `json:"to_node" binding:"required"`
	ToPort   string `json:"to_port" binding:"required"`
}

// AddConnection handles POST /editor/add_connection.
func (h *EditorHandler) AddConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	edge := &models.Edge{FromNode: req.FromNode, FromPort: req.FromPort, ToNode: req.ToNode, ToPort: req.ToPort}
	if err := h.store.AddEdge(req.FlowID, edge); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, edge)
}

// DeleteConnection handles POST /editor/delete_connection.
func (h *EditorHandler) DeleteConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if err := h.store.DeleteEdge(req.FlowID, req.FromNode, req.ToNode, req.FromPort, req.ToPort); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type updateSettingsRequest struct {
	FlowID   int64           `json:"flow_id" binding:"required"`
	NodeID   int64           `json:"node_id" binding:"required"`
	Settings json.RawMessage `json:"settings" binding:"required"`
}

// UpdateSettings handles POST /update_settings?node_type=.
func (h *EditorHandler) UpdateSettings(c *gin.Context) {
	nodeType := c.Query("node_type")
	if nodeType == "" {
		respondBadRequest(c, "node_type is required")
		return
	}
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if err := h.store.UpdateSettings(req.FlowID, req.NodeID, nodeType, req.Settings); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type nodeDescribeResponse struct {
	Node   *models.Node  `json:"node"`
	Schema models.Schema `json:"schema"`
}

// GetNode handles GET /node?flow_id=&node_id=, returning the node's
// settings alongside its currently derived output schema.
func (h *EditorHandler) GetNode(c *gin.Context) {
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

	flow, err := h.store.Snapshot(flowID)
	if err != nil {
		respondError(c, err)
		return
	}
	node, err := flow.GetNode(nodeID)
	if err != nil {
		respondError(c, err)
		return
	}
	schema, err := h.store.NodeSchema(flowID, nodeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nodeDescribeResponse{Node: node, Schema: schema})
}
