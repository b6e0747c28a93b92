package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/api/http/dto"
	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/fleetdeck/fleetdeck/internal/operators"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	operators *operators.Service
	jwtConfig auth.Config
}

func NewAuthHandler(svc *operators.Service, jwtConfig auth.Config) *AuthHandler {
	return &AuthHandler{
		operators: svc,
		jwtConfig: jwtConfig,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.operators.Register(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, operators.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		case errors.Is(err, operators.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		default:
			slog.Error("Failed to create operator", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create operator"})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterResponse{
		ID:       account.ID,
		Username: account.Username,
		Role:     account.Role,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	operator, err := h.operators.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, operators.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		slog.Error("Failed to authenticate operator", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := auth.GenerateToken(h.jwtConfig, operator.ID, operator.Username, operator.Role)
	if err != nil {
		slog.Error("Failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{Token: token})
}

func (h *AuthHandler) ListOperators(c *gin.Context) {
	accounts, err := h.operators.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.ListOperatorsResponse{Operators: make([]dto.OperatorResponse, 0, len(accounts))}
	for _, account := range accounts {
		resp.Operators = append(resp.Operators, dto.OperatorResponse{
			ID:        account.ID,
			Username:  account.Username,
			Role:      account.Role,
			CreatedAt: account.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) DeleteOperator(c *gin.Context) {
	if err := h.operators.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
