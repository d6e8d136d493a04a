// Package main is the entry point for the RDN billing API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jamibilling/rdn-billing/internal/api"
	"github.com/jamibilling/rdn-billing/internal/api/handlers"
	"github.com/jamibilling/rdn-billing/internal/api/middleware"
	"github.com/jamibilling/rdn-billing/internal/app"
	"github.com/jamibilling/rdn-billing/internal/config"
	"github.com/jamibilling/rdn-billing/internal/events"
	"github.com/jamibilling/rdn-billing/pkg/logger"
	"github.com/jamibilling/rdn-billing/pkg/shutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting RDN billing server",
		"version", handlers.Version,
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	shutdownHandler := shutdown.New(log.Logger, cfg.Server.ShutdownTimeout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ============================
	// Backing services and pipeline
	// ============================
	a, err := app.Build(ctx, cfg, app.AllServices(), log)
	if err != nil {
		return err
	}
	a.Closers(shutdownHandler.RegisterNamed)

	// ============================
	// Event stream
	// ============================
	hub := events.NewHub(events.DefaultHubConfig(), log)
	if err := hub.Start(ctx, a.Bus); err != nil {
		log.Warn("failed to relay NATS events, serving local events only", "error", err)
		if err := hub.Start(ctx, nil); err != nil {
			return fmt.Errorf("failed to start event hub: %w", err)
		}
	}
	shutdownHandler.RegisterNamed("websocket-hub", hub.Stop)

	// Events reach the hub through the NATS relay when connected.
	var pub events.Publisher = hub
	if a.Bus != nil {
		pub = a.Bus
	}
	cases := a.Cases(pub)

	// ============================
	// Rate Limit Store
	// ============================
	var rateLimitStore middleware.RateLimitStore
	if a.Redis != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(a.Redis, "rdn:ratelimit", log)
	} else {
		mem := middleware.NewMemoryRateLimitStore()
		shutdownHandler.RegisterNamed("rate-limit-store", func(context.Context) error { return mem.Close() })
		rateLimitStore = mem
	}

	// ============================
	// Setup API Router
	// ============================
	checkers := map[string]handlers.HealthChecker{}
	deps := api.Dependencies{
		Logger:         log,
		Cases:          cases,
		RateLimitStore: rateLimitStore,
		WSHub:          hub,
		Checkers:       checkers,
	}
	if a.DB != nil {
		checkers["database"] = a.DB
	}
	if a.Redis != nil {
		checkers["redis"] = a.Redis
	}
	if a.Bus != nil {
		checkers["nats"] = a.Bus
	}
	if a.Objects != nil {
		checkers["object_storage"] = a.Objects
		deps.ObjectStorage = a.Objects
	}
	if a.Exporter != nil {
		deps.Exporter = a.Exporter
	}

	routerConfig := api.DefaultRouterConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		routerConfig.AllowedOrigins = cfg.Server.AllowedOrigins
	}
	if cfg.Server.RequestTimeout > 0 {
		routerConfig.RequestTimeout = cfg.Server.RequestTimeout
	}
	if cfg.Storage.SignedURLTTL > 0 {
		routerConfig.SignedURLTTL = cfg.Storage.SignedURLTTL
	}

	router := api.NewRouter(deps, routerConfig)

	// ============================
	// Initialize HTTP Server
	// ============================
	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = cfg.Server.Port
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout

	server := api.NewServer(router, serverConfig, log)

	shutdownHandler.RegisterNamed("http-server", server.Shutdown)

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if err := shutdownHandler.Wait(ctx); err != nil {
		log.Warn("shutdown finished with errors", "error", err)
	}

	log.Info("server stopped")
	return nil
}
