package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"openframe-viewer-go/internal/models"
	"openframe-viewer-go/internal/services/viewer"
)

type ViewerHandler struct {
	manager *viewer.Manager
}

func NewViewerHandler(mgr *viewer.Manager) *ViewerHandler {
	return &ViewerHandler{manager: mgr}
}

func (h *ViewerHandler) States(c *gin.Context) {
	states := h.manager.States()
	c.JSON(http.StatusOK, gin.H{
		"viewers": states,
		"count":   len(states),
	})
}

func (h *ViewerHandler) CycleMode(c *gin.Context) {
	vw, ok := h.lookup(c)
	if !ok {
		return
	}
	mode := vw.CycleMode()
	c.JSON(http.StatusOK, gin.H{"mode": mode, "state": vw.State()})
}

func (h *ViewerHandler) Retry(c *gin.Context) {
	vw, ok := h.lookup(c)
	if !ok {
		return
	}
	vw.Retry()
	c.JSON(http.StatusOK, gin.H{"state": vw.State()})
}

func (h *ViewerHandler) Refresh(c *gin.Context) {
	vw, ok := h.lookup(c)
	if !ok {
		return
	}
	vw.RefreshNow()
	c.JSON(http.StatusOK, gin.H{"state": vw.State()})
}

func (h *ViewerHandler) lookup(c *gin.Context) (*viewer.Viewer, bool) {
	sourceType := models.SourceType(c.Param("type"))
	if !sourceType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source type"})
		return nil, false
	}
	ref := models.CameraRef{Type: sourceType, ID: c.Param("id")}
	vw, ok := h.manager.Get(ref)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "viewer not mounted"})
		return nil, false
	}
	return vw, true
}
