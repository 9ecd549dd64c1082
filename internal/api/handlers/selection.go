package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"openframe-viewer-go/internal/models"
	"openframe-viewer-go/internal/services/selection"
)

type SelectionHandler struct {
	selection *selection.Service
}

func NewSelectionHandler(sel *selection.Service) *SelectionHandler {
	return &SelectionHandler{selection: sel}
}

type toggleRequest struct {
	ID   string            `json:"id" binding:"required"`
	Type models.SourceType `json:"type" binding:"required"`
}

func (h *SelectionHandler) Get(c *gin.Context) {
	selected := h.selection.Selected()
	c.JSON(http.StatusOK, gin.H{
		"selected": selected,
		"count":    len(selected),
	})
}

func (h *SelectionHandler) Grid(c *gin.Context) {
	selected := h.selection.Selected()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(selected),
		"layout": selection.Layout(len(selected)),
	})
}

func (h *SelectionHandler) Toggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid toggle request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source type"})
		return
	}

	h.selection.Toggle(req.ID, req.Type)
	c.JSON(http.StatusOK, gin.H{"selected": h.selection.Selected()})
}

func (h *SelectionHandler) Remove(c *gin.Context) {
	sourceType := models.SourceType(c.Param("type"))
	if !sourceType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source type"})
		return
	}

	h.selection.Remove(c.Param("id"), sourceType)
	c.JSON(http.StatusOK, gin.H{"selected": h.selection.Selected()})
}
