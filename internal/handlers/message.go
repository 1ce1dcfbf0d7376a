package handlers

import (
	"errors"

	"vatochito/gateway/internal/messages"
	"vatochito/gateway/internal/middleware"
	"vatochito/gateway/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SendMessageRequest represents send message request body
type SendMessageRequest struct {
	Content       string             `json:"content" validate:"max=10000"`
	MessageType   models.MessageType `json:"message_type" validate:"omitempty,oneof=text image video audio file"`
	ReplyTo       *string            `json:"reply_to" validate:"omitempty,min=1,max=64"`
	ForwardedFrom *string            `json:"forwarded_from" validate:"omitempty,min=1,max=64"`
}

// EditMessageRequest represents edit message request body
type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

// ReactRequest represents reaction request body
type ReactRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// actor builds the acting user for an HTTP request. HTTP callers have no
// session, so nothing is excluded from the broadcast.
func actor(c *fiber.Ctx) models.Actor {
	return models.Actor{
		ConversationID: middleware.GetConversationID(c),
		User:           middleware.GetIdentity(c),
	}
}

// bind parses and validates the request body. It returns a message for
// the client when the body is unusable, or "".
func bind(c *fiber.Ctx, out any) string {
	if err := c.BodyParser(out); err != nil {
		return "Invalid request body"
	}
	if err := validate.Struct(out); err != nil {
		return err.Error()
	}
	return ""
}

// respond writes the outcome of a pipeline call
func (h *Handler) respond(c *fiber.Ctx, status int, data any, err error) error {
	if err == nil {
		return c.Status(status).JSON(fiber.Map{
			"success": true,
			"data":    data,
		})
	}

	code := middleware.StatusFor(err)
	if code >= fiber.StatusInternalServerError {
		h.log.Warn("message action failed",
			zap.String("cid", middleware.GetCorrelationID(c)),
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	msg := err.Error()
	switch {
	case errors.Is(err, models.ErrNotFound):
		msg = "Message not found"
	case errors.Is(err, models.ErrForbidden):
		msg = "Not allowed to change this message"
	case errors.Is(err, models.ErrStoreUnavailable):
		msg = "Storage temporarily unavailable"
	}
	return fail(c, code, msg)
}

// SendMessage creates a message in the conversation
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if msg := bind(c, &req); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}

	msg, err := h.messages.Send(c.UserContext(), actor(c), messages.SendInput{
		Type:          req.MessageType,
		Content:       req.Content,
		ReplyTo:       req.ReplyTo,
		ForwardedFrom: req.ForwardedFrom,
	})
	return h.respond(c, fiber.StatusCreated, msg, err)
}

// EditMessage replaces the content of the caller's message
func (h *Handler) EditMessage(c *fiber.Ctx) error {
	var req EditMessageRequest
	if msg := bind(c, &req); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}

	msg, err := h.messages.Edit(c.UserContext(), actor(c), c.Params("messageID"), req.Content)
	return h.respond(c, fiber.StatusOK, msg, err)
}

// DeleteMessage soft-deletes the caller's message
func (h *Handler) DeleteMessage(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	err := h.messages.Delete(c.UserContext(), actor(c), messageID)
	return h.respond(c, fiber.StatusOK, fiber.Map{"message_id": messageID}, err)
}

// ReactToMessage toggles the caller's reaction
func (h *Handler) ReactToMessage(c *fiber.Ctx) error {
	var req ReactRequest
	if msg := bind(c, &req); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}

	reaction, err := h.messages.React(c.UserContext(), actor(c), c.Params("messageID"), req.Emoji)
	return h.respond(c, fiber.StatusOK, reaction, err)
}

// PinMessage pins a message; admins only
func (h *Handler) PinMessage(c *fiber.Ctx) error {
	pin, err := h.messages.Pin(c.UserContext(), actor(c), c.Params("messageID"))
	return h.respond(c, fiber.StatusOK, pin, err)
}
