package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SchedulerRequest toggles the master polling switch.
type SchedulerRequest struct {
	// Desired state of the global scheduler
	Enabled *bool `json:"enabled" example:"true"`
}

// @Summary      Engine status
// @Description  Point-in-time snapshot: scheduler state, tracked pairs, task table, guard counters.
// @Tags         engine
// @Produce      json
// @Success      200  {object}  service.EngineStatus
// @Router       /api/v1/engine/status [get]
func (h *Handler) engineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Status())
}

// @Summary      Toggle the global scheduler
// @Description  Disabling pauses all polling without touching task state; re-enabling resumes from the next tick.
// @Tags         engine
// @Accept       json
// @Produce      json
// @Param        body  body   SchedulerRequest  true  "Switch payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/engine/scheduler [post]
// @Security     BearerAuth
func (h *Handler) setScheduler(c *gin.Context) {
	var req SchedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	h.services.SetSchedulerEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "enabled": *req.Enabled})
}
