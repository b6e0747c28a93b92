package http

import (
	"github.com/fleetdeck/fleetdeck/internal/api/http/handler"
	"github.com/fleetdeck/fleetdeck/internal/api/http/middleware"
	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/lifecycle"
	"github.com/fleetdeck/fleetdeck/internal/operators"
	"github.com/fleetdeck/fleetdeck/internal/terminal"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/gin-gonic/gin"
)

type Services struct {
	JWTConfig auth.Config
	Operators *operators.Service
	Vault     *vault.Service
	Hosts     *hosts.Service
	Lifecycle *lifecycle.Controller
	Relay     *terminal.Relay
	Recorder  *audit.Recorder
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	authHandler := handler.NewAuthHandler(srvs.Operators, srvs.JWTConfig)
	engine.POST("/auth/login", authHandler.Login)

	api := engine.Group("/api/v1")
	api.Use(middleware.JWTAuth(srvs.JWTConfig.Secret))

	admin := api.Group("")
	admin.Use(middleware.RequireRole(auth.RoleAdmin))
	admin.POST("/operators", authHandler.Register)
	admin.GET("/operators", authHandler.ListOperators)
	admin.DELETE("/operators/:id", authHandler.DeleteOperator)

	credentialHandler := handler.NewCredentialHandler(srvs.Vault)
	elevated := api.Group("")
	elevated.Use(middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator))
	elevated.POST("/credentials", credentialHandler.Store)
	elevated.DELETE("/credentials/:id", credentialHandler.Delete)
	api.GET("/credentials", credentialHandler.List)

	hostHandler := handler.NewHostHandler(srvs.Hosts)
	api.GET("/hosts", hostHandler.List)
	api.GET("/hosts/:id", hostHandler.Get)
	elevated.PUT("/hosts", hostHandler.Sync)
	elevated.DELETE("/hosts/:id", hostHandler.Delete)

	lifecycleHandler := handler.NewLifecycleHandler(srvs.Lifecycle)
	elevated.POST("/hosts/:id/agent", lifecycleHandler.Apply)
	api.GET("/hosts/:id/agent", lifecycleHandler.Info)

	terminalHandler := handler.NewTerminalHandler(srvs.Relay)
	elevated.GET("/hosts/:id/terminal", terminalHandler.Attach)
	api.GET("/sessions", terminalHandler.ListSessions)
	elevated.DELETE("/sessions/:id", terminalHandler.StopSession)

	auditHandler := handler.NewAuditHandler(srvs.Recorder)
	admin.GET("/audit", auditHandler.Query)
}
