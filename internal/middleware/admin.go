package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKey guards moderator endpoints with a shared key. An empty key lets
// every request through, which config only allows in development.
func AdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}
		got := c.Get(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			return fiber.NewError(http.StatusForbidden, "admin key required")
		}
		return c.Next()
	}
}
