package handlers

import (
	"context"

	"vatochito/gateway/internal/messages"
	ws "vatochito/gateway/internal/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler serves the gateway's HTTP and websocket endpoints
type Handler struct {
	// ctx outlives single requests; websocket sessions run under it so
	// server shutdown reaches them.
	ctx        context.Context
	hub        *ws.Hub
	router     *ws.Router
	messages   *messages.Pipeline
	sendBuffer int
	appName    string
	log        *zap.Logger
}

// New creates the handler set
func New(ctx context.Context, hub *ws.Hub, router *ws.Router, pipeline *messages.Pipeline, sendBuffer int, appName string, log *zap.Logger) *Handler {
	return &Handler{
		ctx:        ctx,
		hub:        hub,
		router:     router,
		messages:   pipeline,
		sendBuffer: sendBuffer,
		appName:    appName,
		log:        log.Named("http"),
	}
}

// Health reports that the process is up
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": h.appName + " is running",
	})
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}
