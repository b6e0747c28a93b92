package handler

import (
	"net/http"

	"github.com/fleetdeck/fleetdeck/internal/api/http/dto"
	"github.com/fleetdeck/fleetdeck/internal/api/http/middleware"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/gin-gonic/gin"
)

type HostHandler struct {
	hosts *hosts.Service
}

func NewHostHandler(svc *hosts.Service) *HostHandler {
	return &HostHandler{hosts: svc}
}

func hostResponse(target hosts.Target) dto.HostResponse {
	return dto.HostResponse{
		ID:           target.ID,
		Name:         target.Name,
		Address:      target.Address,
		Port:         target.Port,
		User:         target.User,
		CredentialID: target.CredentialID,
	}
}

// Sync upserts a host record pushed by the inventory layer.
func (h *HostHandler) Sync(c *gin.Context) {
	var req dto.SyncHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}

	target := hosts.Target{
		ID:           req.ID,
		Name:         req.Name,
		Address:      req.Address,
		Port:         req.Port,
		User:         req.User,
		CredentialID: req.CredentialID,
	}
	if err := h.hosts.Sync(c.Request.Context(), target); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hostResponse(target))
}

func (h *HostHandler) Get(c *gin.Context) {
	target, err := h.hosts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hostResponse(*target))
}

func (h *HostHandler) List(c *gin.Context) {
	targets, err := h.hosts.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ListHostsResponse{Hosts: make([]dto.HostResponse, 0, len(targets))}
	for _, target := range targets {
		resp.Hosts = append(resp.Hosts, hostResponse(target))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HostHandler) Delete(c *gin.Context) {
	operator, _ := middleware.CurrentOperator(c)
	if err := h.hosts.Forget(c.Request.Context(), c.Param("id"), operator.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
