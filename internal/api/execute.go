package api

import (
	"github.com/gin-gonic/gin"

	"github.com/shopsense/shopsense/internal/fallback"
)

// ExecuteHandler handles fallback execution requests
type ExecuteHandler struct {
	orchestrator *fallback.Orchestrator
}

// NewExecuteHandler creates a new execute handler
func NewExecuteHandler(orch *fallback.Orchestrator) *ExecuteHandler {
	return &ExecuteHandler{orchestrator: orch}
}

// ExecuteRequest is the request body for an execution
type ExecuteRequest struct {
	Kind      string            `json:"kind"`
	Params    map[string]string `json:"params,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
}

// Execute runs one request through the fallback chain. The outcome is always
// 200: a failed execution is reported in the body, not as an HTTP error.
func (h *ExecuteHandler) Execute(c *gin.Context) {
	var body ExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	req := &fallback.Request{
		ID:        requestID(c),
		Kind:      body.Kind,
		Params:    body.Params,
		Prompt:    body.Prompt,
		Tags:      body.Tags,
		DependsOn: body.DependsOn,
	}

	outcome := h.orchestrator.Execute(c.Request.Context(), req)
	SuccessResponse(c, outcome)
}

// GetMetrics returns the engine's per-stage metrics report.
func (h *ExecuteHandler) GetMetrics(c *gin.Context) {
	SuccessResponse(c, h.orchestrator.Metrics())
}
