package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"openframe-viewer-go/internal/api"
	"openframe-viewer-go/internal/backend"
	"openframe-viewer-go/internal/config"
	"openframe-viewer-go/internal/logging"
	"openframe-viewer-go/internal/models"
	"openframe-viewer-go/internal/services/messaging"
	"openframe-viewer-go/internal/services/registry"
	"openframe-viewer-go/internal/services/selection"
	"openframe-viewer-go/internal/services/viewer"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Optionally tee logs into the embedded Logdy UI
	if cfg.LogdyEnabled {
		if w, _, err := logging.StartLogdy(cfg); err == nil {
			log.Logger = log.Output(io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stderr}, w))
		} else {
			log.Warn().Err(err).Msg("Failed to start Logdy, console logging only")
		}
	}

	log.Info().
		Str("instance_id", cfg.InstanceID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Str("backend_url", cfg.BackendURL).
		Int("port", cfg.Port).
		Msg("Starting OpenFrame viewer engine")

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout,
		logging.NewServiceLogger(cfg, "backend"))

	// Viewer state events over NATS are optional
	var events viewer.EventPublisher
	var msgSvc *messaging.Service
	if cfg.NatsURL != "" {
		msgSvc, err = messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, viewer events disabled")
		} else {
			events = msgSvc
		}
	}

	reg := registry.NewRegistry(cfg, client, logging.NewServiceLogger(cfg, "registry"))

	store := selection.NewStore(cfg.StateDir, logging.NewServiceLogger(cfg, "selection"))
	sel := selection.NewService(store, logging.NewServiceLogger(cfg, "selection"))

	mgr := viewer.NewManager(cfg, client, reg, events, nil,
		logging.NewServiceLogger(cfg, "viewer"))

	// Collection changes prune stale selections; selection changes
	// reconcile the viewer grid.
	sel.OnChange(func(selected []models.SelectedCamera) {
		mgr.Reconcile(selected)
	})
	reg.Subscribe(func() {
		sel.Prune(reg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Start(ctx)

	// Mount any selection that survived the restart
	sel.Prune(reg)
	mgr.Reconcile(sel.Selected())

	server := api.NewServer(cfg, reg, sel, mgr)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	mgr.Shutdown()
	reg.Stop()
	if msgSvc != nil {
		_ = msgSvc.Shutdown(shutdownCtx)
	}

	log.Info().Msg("Shutdown complete")
}
