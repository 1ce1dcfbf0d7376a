package middleware

import (
	"vatochito/gateway/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// HeaderCorrelationID carries the request correlation ID
const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationID reuses the caller's correlation ID or mints one, echoes it
// in the response and stores it in the request locals
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cid := c.Get(HeaderCorrelationID)
		if cid == "" || len(cid) > 64 {
			cid = utils.NewCorrelationID()
		}
		c.Locals("cid", cid)
		c.Set(HeaderCorrelationID, cid)
		return c.Next()
	}
}

// GetCorrelationID gets the correlation ID from context
func GetCorrelationID(c *fiber.Ctx) string {
	cid, ok := c.Locals("cid").(string)
	if !ok {
		return ""
	}
	return cid
}
