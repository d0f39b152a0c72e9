package handlers

import (
	"net/http"

	"logitrack/internal/services"

	"github.com/gin-gonic/gin"
)

type TeamChannelHandler struct {
	hub *services.TeamHub
}

func NewTeamChannelHandler(hub *services.TeamHub) *TeamChannelHandler {
	return &TeamChannelHandler{hub: hub}
}

func (h *TeamChannelHandler) HandleWebSocket(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

func (h *TeamChannelHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"connected_clients": h.hub.GetClientCount(),
			"published_events":  h.hub.Published(),
			"status":            "running",
		},
	})
}
