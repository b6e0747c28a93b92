package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/lifecycle"
	"github.com/fleetdeck/fleetdeck/internal/operators"
	"github.com/fleetdeck/fleetdeck/internal/sshpool"
	"github.com/fleetdeck/fleetdeck/internal/terminal"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/gin-gonic/gin"
)

// respondError maps domain errors to HTTP statuses. Unrecognized errors
// are logged and surfaced as an opaque 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, vault.ErrInvalidKeyFormat),
		errors.Is(err, vault.ErrEncryptedKeyRejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrCredentialNotFound),
		errors.Is(err, hosts.ErrHostNotFound),
		errors.Is(err, lifecycle.ErrStatusNotFound),
		errors.Is(err, terminal.ErrSessionNotFound),
		errors.Is(err, operators.ErrOperatorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrLifecycleBusy),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sshpool.ErrPoolExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, sshpool.ErrCommandTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, sshpool.ErrConnection):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, terminal.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, vault.ErrCredentialIntegrity):
		slog.Error("Credential integrity failure surfaced to API", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential integrity check failed"})
	default:
		slog.Error("Unhandled API error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
