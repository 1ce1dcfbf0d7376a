package handlers

import (
	"encoding/json"

	"vatochito/gateway/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Publish broadcasts an event built by another service to a conversation.
// The body is forwarded as is; it only has to be an object with a type.
func (h *Handler) Publish(c *fiber.Ctx) error {
	conversationID := c.Params("conversationID")
	if conversationID == "" {
		return fail(c, fiber.StatusBadRequest, "Conversation ID is required")
	}

	body := c.Body()
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil || head.Type == "" {
		return fail(c, fiber.StatusBadRequest, "Body must be a JSON object with a type")
	}

	// The request buffer is reused by fasthttp once the handler returns.
	payload := append([]byte(nil), body...)
	delivered := h.hub.BroadcastRaw(h.ctx, conversationID, payload, c.Query("exclude_session_id"))

	h.log.Debug("published event",
		zap.String("cid", middleware.GetCorrelationID(c)),
		zap.String("conversation_id", conversationID),
		zap.String("type", head.Type),
		zap.Int("delivered", delivered))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"delivered": delivered,
		},
	})
}
