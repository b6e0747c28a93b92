package handler

import (
	"net/http"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/api/http/dto"
	"github.com/fleetdeck/fleetdeck/internal/api/http/middleware"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/gin-gonic/gin"
)

type CredentialHandler struct {
	vault *vault.Service
}

func NewCredentialHandler(svc *vault.Service) *CredentialHandler {
	return &CredentialHandler{vault: svc}
}

func credentialResponse(cred vault.Credential) dto.CredentialResponse {
	return dto.CredentialResponse{
		ID:          cred.ID,
		Name:        cred.Name,
		Fingerprint: cred.Fingerprint,
		Algorithm:   cred.Algorithm,
		CreatedBy:   cred.CreatedBy,
		CreatedAt:   cred.CreatedAt.Format(time.RFC3339),
	}
}

func (h *CredentialHandler) Store(c *gin.Context) {
	var req dto.StoreCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	operator, _ := middleware.CurrentOperator(c)
	cred, err := h.vault.Store(c.Request.Context(), req.Name, []byte(req.PrivateKey), operator.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, credentialResponse(*cred))
}

func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.vault.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ListCredentialsResponse{Credentials: make([]dto.CredentialResponse, 0, len(creds))}
	for _, cred := range creds {
		resp.Credentials = append(resp.Credentials, credentialResponse(cred))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CredentialHandler) Delete(c *gin.Context) {
	operator, _ := middleware.CurrentOperator(c)
	if err := h.vault.SoftDelete(c.Request.Context(), c.Param("id"), operator.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
