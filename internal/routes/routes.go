package routes

import (
	"time"

	"vatochito/gateway/internal/handlers"
	"vatochito/gateway/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Deps are the collaborators the routes need besides the handlers
type Deps struct {
	Verifier       middleware.Verifier
	Members        middleware.MembershipChecker
	PublishKeyHash string
	WSRateLimit    int
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h *handlers.Handler, deps Deps) {
	auth := middleware.Authenticate(deps.Verifier)
	member := middleware.RequireMember(deps.Members, "conversationID")
	wsConfig := websocket.Config{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	wsChain := []fiber.Handler{
		handlers.WebSocketUpgrade,
		auth,
		middleware.ConnectRateLimiter(deps.WSRateLimit),
		member,
		websocket.New(h.WebSocketHandler, wsConfig),
	}

	// Realtime endpoint; clients pass ?token= because browsers cannot set
	// headers on the handshake
	app.Get("/ws/chat/:conversationID", wsChain...)

	// API v1 group
	api := app.Group("/api/v1")

	// Health check (public)
	api.Get("/health", h.Health)

	api.Get("/ws/chat/:conversationID", wsChain...)

	// WebSocket stats (protected, for debugging)
	api.Get("/ws/stats", auth, middleware.RelaxedRateLimiter(), h.GetWebSocketStats)

	// Message routes (protected); these answer with authoritative errors
	// and reach live sessions through the hub
	messages := api.Group("/conversations/:conversationID/messages", auth, middleware.ModerateRateLimiter(), member)
	messages.Post("/", h.SendMessage)
	messages.Patch("/:messageID", h.EditMessage)
	messages.Delete("/:messageID", h.DeleteMessage)
	messages.Post("/:messageID/react", h.ReactToMessage)
	messages.Post("/:messageID/pin", h.PinMessage)

	// Internal publish entry point for sibling services
	internal := app.Group("/internal/v1", middleware.ServiceKey(deps.PublishKeyHash))
	internal.Post("/conversations/:conversationID/publish", h.Publish)
}
