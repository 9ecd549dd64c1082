package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"openframe-viewer-go/internal/services/registry"
)

type CameraHandler struct {
	registry *registry.Registry
}

func NewCameraHandler(reg *registry.Registry) *CameraHandler {
	return &CameraHandler{registry: reg}
}

// ListSources returns the merged camera collection used for thumbnails and
// selection: standalone cameras first (enabled, sort order), then HA
// entities in fetch order.
func (h *CameraHandler) ListSources(c *gin.Context) {
	sources := h.registry.Sources()
	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"count":   len(sources),
	})
}

func (h *CameraHandler) RelayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"available": h.registry.RelayAvailable(),
	})
}
