package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/domain"
	"ephemeral-relay/internal/service"
)

// DirectoryHandler serves the mesh endpoints: health, peer and room
// listings, and inbound gossip.
type DirectoryHandler struct {
	directory *service.DirectoryService
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(directory *service.DirectoryService) *DirectoryHandler {
	if directory == nil {
		panic("DirectoryService cannot be nil for DirectoryHandler")
	}
	return &DirectoryHandler{directory: directory}
}

// Health handles GET /health.
func (h *DirectoryHandler) Health(c *gin.Context) {
	workers, rooms := h.directory.Stats()
	SuccessResponse(c, http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"node":      h.directory.SelfURL(),
		"workers":   workers,
		"rooms":     rooms,
	})
}

// Workers handles GET /workers.
func (h *DirectoryHandler) Workers(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"workers": h.directory.Workers()})
}

// Rooms handles GET /rooms.
func (h *DirectoryHandler) Rooms(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": h.directory.Rooms()})
}

// Gossip handles POST /gossip: merge a peer's view into ours.
func (h *DirectoryHandler) Gossip(c *gin.Context) {
	var payload domain.GossipPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		ErrorResponse(c, http.StatusBadRequest, service.ErrInvalidGossip.Error())
		return
	}
	if err := h.directory.Ingest(&payload); err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"from":    payload.From,
		"workers": len(payload.Workers),
		"rooms":   len(payload.Rooms),
	}).Debug("Gossip ingested")
	SuccessResponse(c, http.StatusOK, gin.H{"status": "ok"})
}
