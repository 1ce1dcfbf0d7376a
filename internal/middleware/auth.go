package middleware

import (
	"context"
	"errors"
	"strings"

	"vatochito/gateway/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Verifier resolves a bearer token to a user
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// MembershipChecker answers whether a user belongs to a conversation
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// ExtractToken reads the bearer token from the token query parameter, the
// Authorization header or the token cookie, in that order. Browsers cannot
// set headers on a websocket handshake, hence the query parameter.
func ExtractToken(c *fiber.Ctx) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	if auth := c.Get(fiber.HeaderAuthorization); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return c.Cookies("token")
}

// Authenticate validates the bearer token and stores the user in the
// request locals
func Authenticate(v Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
			})
		}

		user, err := v.Verify(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
			})
		}

		c.Locals("userID", user.ID)
		c.Locals("username", user.Username)

		return c.Next()
	}
}

// RequireMember admits only members of the conversation named by the
// route parameter param
func RequireMember(m MembershipChecker, param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params(param)
		if conversationID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Conversation ID is required",
			})
		}

		ok, err := m.IsMember(c.UserContext(), conversationID, GetUserID(c))
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"error":   "Membership check failed",
			})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "Not a member of this conversation",
			})
		}

		c.Locals("conversationID", conversationID)
		return c.Next()
	}
}

// StatusFor maps a domain error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidPayload):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrAlreadyJoined):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// GetUserID gets user ID from context
func GetUserID(c *fiber.Ctx) string {
	userID, ok := c.Locals("userID").(string)
	if !ok {
		return ""
	}
	return userID
}

// GetUsername gets the username from context
func GetUsername(c *fiber.Ctx) string {
	username, ok := c.Locals("username").(string)
	if !ok {
		return ""
	}
	return username
}

// GetIdentity gets the authenticated user from context
func GetIdentity(c *fiber.Ctx) models.Identity {
	return models.Identity{ID: GetUserID(c), Username: GetUsername(c)}
}

// GetConversationID gets the membership-checked conversation from context
func GetConversationID(c *fiber.Ctx) string {
	conversationID, ok := c.Locals("conversationID").(string)
	if !ok {
		return ""
	}
	return conversationID
}
