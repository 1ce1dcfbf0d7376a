package middleware

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// HeaderGatewayKey carries the shared key of internal callers
const HeaderGatewayKey = "X-Gateway-Key"

// ServiceKey admits internal callers whose key matches the bcrypt hash.
// With no hash configured the internal API is switched off.
func ServiceKey(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"error":   "Internal API is disabled",
			})
		}

		key := c.Get(HeaderGatewayKey)
		if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid service key",
			})
		}
		return c.Next()
	}
}
