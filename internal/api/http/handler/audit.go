package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/api/http/dto"
	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	recorder *audit.Recorder
}

func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// Query returns audit entries in append order, narrowed by the optional
// actor, action, target_type, target_id, from, to and limit parameters.
func (h *AuditHandler) Query(c *gin.Context) {
	filter := audit.Filter{
		Actor:      c.Query("actor"),
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
	}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp"})
			return
		}
		filter.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp"})
			return
		}
		filter.To = to
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'"})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.recorder.Query(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ListAuditResponse{Entries: make([]dto.AuditEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, dto.AuditEntryResponse{
			ID:         entry.ID,
			Actor:      entry.Actor,
			Action:     entry.Action,
			TargetType: entry.TargetType,
			TargetID:   entry.TargetID,
			Metadata:   entry.Metadata,
			CreatedAt:  entry.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}
