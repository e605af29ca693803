package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/identity"
)

// RegisterIdentityRoutes wires sign-up, sign-in and member search.
func RegisterIdentityRoutes(r fiber.Router, auth fiber.Handler, h *identity.Handler, rateLimiter fiber.Handler) {
	r.Post("/createUser", h.CreateUser)
	if rateLimiter != nil {
		r.Post("/login", rateLimiter, h.Login)
	} else {
		r.Post("/login", h.Login)
	}
	r.Post("/logout", auth, h.Logout)
	r.Get("/me", auth, h.Me)
	r.Get("/identities", auth, h.Identities)
}
