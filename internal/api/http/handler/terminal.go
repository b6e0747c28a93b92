package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/api/http/dto"
	"github.com/fleetdeck/fleetdeck/internal/api/http/middleware"
	"github.com/fleetdeck/fleetdeck/internal/terminal"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type TerminalHandler struct {
	relay    *terminal.Relay
	upgrader websocket.Upgrader
}

func NewTerminalHandler(relay *terminal.Relay) *TerminalHandler {
	return &TerminalHandler{
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Cross-origin policy is enforced by the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Attach upgrades the request to a websocket and bridges it to an
// interactive shell on the host. The HTTP handler returns only after
// the session ends.
func (h *TerminalHandler) Attach(c *gin.Context) {
	operator, _ := middleware.CurrentOperator(c)
	hostID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "host_id", hostID, "error", err)
		return
	}

	stream := terminal.NewWSStream(conn)
	sess, err := h.relay.Open(c.Request.Context(), operator, hostID, stream)
	if err != nil {
		// The connection is already a websocket; report the failure
		// in-band before closing.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	<-sess.Done()
}

func sessionResponse(record terminal.Record) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:           record.ID,
		HostID:       record.HostID,
		OperatorID:   record.OperatorID,
		Status:       string(record.Status),
		StartedAt:    record.StartedAt.Format(time.RFC3339),
		LastActivity: record.LastActivity.Format(time.RFC3339),
		CloseReason:  record.CloseReason,
	}
	if record.EndedAt != nil {
		resp.EndedAt = record.EndedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *TerminalHandler) ListSessions(c *gin.Context) {
	operator, _ := middleware.CurrentOperator(c)
	records, err := h.relay.List(c.Request.Context(), operator)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ListSessionsResponse{Sessions: make([]dto.SessionResponse, 0, len(records))}
	for _, record := range records {
		resp.Sessions = append(resp.Sessions, sessionResponse(record))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *TerminalHandler) StopSession(c *gin.Context) {
	operator, _ := middleware.CurrentOperator(c)
	if err := h.relay.Stop(c.Request.Context(), operator, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
