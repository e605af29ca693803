package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/media"
)

// RegisterMediaRoutes wires profile photo redirects and the storage upload
// hook, which only the storage service calls.
func RegisterMediaRoutes(r fiber.Router, admin fiber.Handler, h *media.Handler) {
	r.Get("/photo", h.Photo)
	r.Post("/storage/events", admin, h.StorageEvent)
}
