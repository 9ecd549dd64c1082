package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"openframe-viewer-go/internal/config"
)

type HealthHandler struct {
	cfg       *config.Config
	startedAt time.Time
}

func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{cfg: cfg, startedAt: time.Now()}
}

func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "openframe-viewer",
		"instance_id": h.cfg.InstanceID,
		"version":     h.cfg.Version,
		"environment": h.cfg.Environment,
	})
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.startedAt).String(),
	})
}
