package handlers

import (
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler upgrades authenticated clients onto the status push hub
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
}

func NewWebSocketHandler(pushService *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{pushService: pushService}
}

// HandleConnection GET /api/ws
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	h.pushService.HandleWebSocket(c.Writer, c.Request, middleware.Actor(c))
}
