package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/payments"
)

// RegisterPaymentRoutes wires card authorization and payment endpoints.
// Idempotency keys are scoped to the caller, so it runs after auth.
func RegisterPaymentRoutes(r fiber.Router, auth, admin fiber.Handler, h *payments.Handler, idempotency fiber.Handler) {
	r.Get("/cardInfo", h.CardInfo)
	r.Post("/authorize", auth, h.Authorize)
	if idempotency != nil {
		r.Post("/payments", auth, idempotency, h.Create)
	} else {
		r.Post("/payments", auth, h.Create)
	}
	r.Put("/cards/:cardId", admin, h.PutCard)
}
