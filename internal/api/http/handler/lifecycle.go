package handler

import (
	"net/http"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/api/http/dto"
	"github.com/fleetdeck/fleetdeck/internal/api/http/middleware"
	"github.com/fleetdeck/fleetdeck/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

type LifecycleHandler struct {
	controller *lifecycle.Controller
}

func NewLifecycleHandler(ctrl *lifecycle.Controller) *LifecycleHandler {
	return &LifecycleHandler{controller: ctrl}
}

func statusResponse(status lifecycle.Status) dto.AgentStatusResponse {
	resp := dto.AgentStatusResponse{
		HostID:         status.HostID,
		State:          string(status.State),
		LastError:      status.LastError,
		StaleHeartbeat: status.StaleHeartbeat,
	}
	if !status.LastTransition.IsZero() {
		resp.LastTransition = status.LastTransition.Format(time.RFC3339)
	}
	if !status.LastHeartbeat.IsZero() {
		resp.LastHeartbeat = status.LastHeartbeat.Format(time.RFC3339)
	}
	return resp
}

// Apply runs one lifecycle operation to completion and returns the
// resulting status. Concurrent operations on the same host get 409.
func (h *LifecycleHandler) Apply(c *gin.Context) {
	var req dto.LifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	operator, _ := middleware.CurrentOperator(c)
	status, err := h.controller.Apply(c.Request.Context(), operator.ID, c.Param("id"), lifecycle.Operation(req.Operation))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(status))
}

func (h *LifecycleHandler) Info(c *gin.Context) {
	operator, _ := middleware.CurrentOperator(c)
	status, err := h.controller.Info(c.Request.Context(), operator.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(status))
}
