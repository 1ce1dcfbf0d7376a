package handlers

import (
	"vatochito/gateway/internal/models"
	ws "vatochito/gateway/internal/websocket"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return fail(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required")
}

// WebSocketHandler runs one admitted session. Authentication and the
// membership check have already passed by the time the upgrade happens.
func (h *Handler) WebSocketHandler(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	username, _ := c.Locals("username").(string)
	conversationID, _ := c.Locals("conversationID").(string)
	if conversationID == "" {
		conversationID = c.Params("conversationID")
	}

	client := ws.NewClient(c, models.Identity{ID: userID, Username: username}, h.sendBuffer, h.log)
	if err := h.router.Serve(h.ctx, conversationID, client); err != nil {
		h.log.Warn("session rejected",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(c *fiber.Ctx) error {
	sessions, groups := h.hub.Stats()
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"sessions": sessions,
			"groups":   groups,
		},
	})
}
