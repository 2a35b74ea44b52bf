package api

import (
	"github.com/gin-gonic/gin"

	"github.com/shopsense/shopsense/internal/fallback"
)

// AdminHandler handles operator endpoints for breaker and cache control
type AdminHandler struct {
	orchestrator *fallback.Orchestrator
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(orch *fallback.Orchestrator) *AdminHandler {
	return &AdminHandler{orchestrator: orch}
}

// ResetBreaker forces one stage's circuit breaker closed.
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	stageID := c.Param("stage")

	if err := h.orchestrator.ResetBreaker(stageID); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	state, _ := h.orchestrator.BreakerState(stageID)
	SuccessResponse(c, gin.H{
		"stage": stageID,
		"state": state.String(),
	})
}

// ClearCache empties both cache tiers.
func (h *AdminHandler) ClearCache(c *gin.Context) {
	h.orchestrator.ClearCache(c.Request.Context())
	SuccessResponse(c, gin.H{"cleared": true})
}

// InvalidateKey removes one cached key and its one-level dependents.
func (h *AdminHandler) InvalidateKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		BadRequestResponse(c, "cache key is required")
		return
	}

	h.orchestrator.InvalidateCache(c.Request.Context(), key)
	SuccessResponse(c, gin.H{"invalidated": key})
}

// InvalidateTag removes every cached entry carrying the tag.
func (h *AdminHandler) InvalidateTag(c *gin.Context) {
	tag := c.Param("tag")
	if tag == "" {
		BadRequestResponse(c, "cache tag is required")
		return
	}

	h.orchestrator.InvalidateCacheTag(c.Request.Context(), tag)
	SuccessResponse(c, gin.H{"invalidated_tag": tag})
}
