package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopsense/shopsense/internal/fallback"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	orchestrator *fallback.Orchestrator
	version      string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(orch *fallback.Orchestrator, version string) *HealthHandler {
	return &HealthHandler{orchestrator: orch, version: version}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Stages    map[string]string `json:"stages"`
}

// GetHealth reports breaker-derived engine health. Unhealthy maps to 503 so
// load balancers can rotate the instance out.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	status := h.orchestrator.HealthStatus()

	response := HealthResponse{
		Status:    string(status.Overall),
		Timestamp: time.Now(),
		Version:   h.version,
		Stages:    status.Stages,
	}

	code := http.StatusOK
	if status.Overall == fallback.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}
