package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"openframe-viewer-go/internal/api/handlers"
	"openframe-viewer-go/internal/config"
	"openframe-viewer-go/internal/services/registry"
	"openframe-viewer-go/internal/services/selection"
	"openframe-viewer-go/internal/services/viewer"
)

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	healthHandler    *handlers.HealthHandler
	cameraHandler    *handlers.CameraHandler
	selectionHandler *handlers.SelectionHandler
	viewerHandler    *handlers.ViewerHandler
}

func NewServer(cfg *config.Config, reg *registry.Registry, sel *selection.Service, mgr *viewer.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	s := &Server{
		config:           cfg,
		router:           router,
		healthHandler:    handlers.NewHealthHandler(cfg),
		cameraHandler:    handlers.NewCameraHandler(reg),
		selectionHandler: handlers.NewSelectionHandler(sel),
		viewerHandler:    handlers.NewViewerHandler(mgr),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}

	return s
}

func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Viewer API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
