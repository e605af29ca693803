package media

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes photo endpoints.
type Handler struct {
	objects     ObjectStore
	thumbnailer *Thumbnailer
	ttl         time.Duration
}

// NewHandler constructs a media handler; ttl bounds the life of photo URLs.
func NewHandler(objects ObjectStore, thumbnailer *Thumbnailer, ttl time.Duration) *Handler {
	return &Handler{objects: objects, thumbnailer: thumbnailer, ttl: ttl}
}

// Photo redirects to the thumbnail of the member named by ?key=.
func (h *Handler) Photo(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return fiber.NewError(http.StatusBadRequest, "key is required")
	}
	url, err := h.objects.PresignGet(c.UserContext(), PhotoKey(key), h.ttl)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Redirect(url, http.StatusFound)
}

// StorageEvent runs the thumbnail pipeline for an object notification.
func (h *Handler) StorageEvent(c *fiber.Ctx) error {
	var ev Event
	if err := c.BodyParser(&ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	key, err := h.thumbnailer.Process(c.UserContext(), ev)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if key == "" {
		return c.SendStatus(http.StatusNoContent)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"thumbnail": key})
}
