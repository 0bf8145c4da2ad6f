package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/mbflow/internal/application/importer"
	"github.com/smilemakc/mbflow/pkg/graphstore"
	"github.com/smilemakc/mbflow/pkg/models"
)

// FlowHandler implements the flow-level endpoints of spec.md §6: create,
// fetch, import and export a flow document.
type FlowHandler struct {
	store *graphstore.Store
}

func NewFlowHandler(store *graphstore.Store) *FlowHandler {
	return &FlowHandler{store: store}
}

type createFlowRequest struct {
	FlowID int64  `json:"flow_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

// CreateFlow handles POST /flow.
func (h *FlowHandler) CreateFlow(c *gin.Context) {
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	flow, err := h.store.CreateFlow(req.FlowID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, flow)
}

// GetFlow handles GET /flow?flow_id=.
func (h *FlowHandler) GetFlow(c *gin.Context) {
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
	c.JSON(http.StatusOK, flow)
}

// ExportFlow handles GET /flow/export?flow_id=&format=yaml|json, returning
// the canonical document either as JSON or as the YAML editing convenience
// format of internal/application/importer.
func (h *FlowHandler) ExportFlow(c *gin.Context) {
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

	if c.Query("format") == "yaml" {
		data, err := importer.ToYAML(flow)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/x-yaml", data)
		return
	}

	data, err := flow.Serialize()
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// ImportFlow handles POST /flow/import?format=yaml|json, registering the
// uploaded document as a new flow.
func (h *FlowHandler) ImportFlow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	var flow *models.Flow
	if c.Query("format") == "yaml" {
		flow, err = importer.FromYAML(body)
	} else {
		flow, err = models.DeserializeFlow(body)
	}
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	imported, err := h.store.Import(mustSerialize(flow))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, imported)
}

func mustSerialize(flow *models.Flow) []byte {
	data, err := flow.Serialize()
	if err != nil {
		// Serialize only fails on a json.Marshal error, which cannot happen
		// for a flow that has already round-tripped through DeserializeFlow.
		panic(err)
	}
	return data
}
