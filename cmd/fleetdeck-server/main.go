package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalhttp "github.com/fleetdeck/fleetdeck/internal/api/http"
	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/fleetdeck/fleetdeck/internal/db"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/lifecycle"
	"github.com/fleetdeck/fleetdeck/internal/operators"
	"github.com/fleetdeck/fleetdeck/internal/sshpool"
	"github.com/fleetdeck/fleetdeck/internal/terminal"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("FleetDeck Server", "version", AppVersion)

	ctx := context.Background()

	if err := db.RunMigrations(config.Db.Url, config.Db.Schema); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pgPool, err := db.InitDB(ctx, config.Db.Url, config.Db.Schema)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	recorder := audit.NewRecorder(audit.NewPGStore(pgPool))

	vaultSvc, err := vault.NewService(vault.NewPGStore(pgPool), recorder, vault.Config{
		MasterSecret: config.Vault.MasterSecret,
		Salt:         config.Vault.Salt,
		Iterations:   config.Vault.Iterations,
	})
	if err != nil {
		slog.Error("Failed to initialize vault", "error", err)
		os.Exit(1)
	}

	hostSvc := hosts.NewService(hosts.NewPGStore(pgPool), recorder)

	sshPool := sshpool.New(sshpool.Config{
		MaxPerKey:      config.Pool.MaxPerKey,
		ConnectTimeout: config.Pool.ConnectTimeout,
		IdleTimeout:    config.Pool.IdleTimeout,
		MaxRetries:     config.Pool.MaxRetries,
	}, vaultSvc, sshpool.NewDialer())

	var payload []byte
	if config.Lifecycle.PayloadPath != "" {
		payload, err = os.ReadFile(config.Lifecycle.PayloadPath)
		if err != nil {
			slog.Error("Failed to read agent payload", "path", config.Lifecycle.PayloadPath, "error", err)
			os.Exit(1)
		}
	}

	controller := lifecycle.NewController(lifecycle.Config{
		CommandTimeout:  config.Lifecycle.CommandTimeout,
		HeartbeatWindow: config.Lifecycle.HeartbeatWindow,
	}, sshPool, hostSvc, lifecycle.NewPGStatusStore(pgPool), recorder, payload)

	relay := terminal.NewRelay(terminal.Config{
		IdleTimeout: config.Terminal.IdleTimeout,
	}, sshPool, hostSvc, terminal.NewPGStore(pgPool), recorder)

	operatorSvc := operators.NewService(operators.NewPGStore(pgPool))
	if err := bootstrapAdmin(ctx, operatorSvc); err != nil {
		slog.Error("Failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	jwtConfig := auth.Config{
		Secret:   config.Auth.JwtSecret,
		TokenTTL: config.Auth.TokenTTL,
	}

	services := &internalhttp.Services{
		JWTConfig: jwtConfig,
		Operators: operatorSvc,
		Vault:     vaultSvc,
		Hosts:     hostSvc,
		Lifecycle: controller,
		Relay:     relay,
		Recorder:  recorder,
	}

	allowOrigins := config.Http.AllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	relay.Shutdown()
	sshPool.Close()

	slog.Info("Shutdown complete")
}

// bootstrapAdmin creates the configured admin account if it does not
// exist yet. Without it a fresh deployment has no way to log in.
func bootstrapAdmin(ctx context.Context, svc *operators.Service) error {
	if config.Bootstrap.AdminUsername == "" || config.Bootstrap.AdminPassword == "" {
		return nil
	}

	_, err := svc.Register(ctx, config.Bootstrap.AdminUsername, config.Bootstrap.AdminPassword, auth.RoleAdmin)
	if err != nil {
		if errors.Is(err, operators.ErrUsernameTaken) {
			return nil
		}
		return err
	}
	slog.Info("Bootstrapped admin account", "username", config.Bootstrap.AdminUsername)
	return nil
}
