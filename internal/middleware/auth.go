package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/identity"
)

// UserIDKey is the fiber local holding the authenticated member id.
const UserIDKey = "user_id"

// TokenVerifier checks a bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Claims, error)
}

// BearerAuth rejects requests without a valid bearer token and exposes the
// caller's id under UserIDKey.
func BearerAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(UserIDKey, claims.UserID())
		return c.Next()
	}
}
