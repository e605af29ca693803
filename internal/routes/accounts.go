package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/accounts"
)

// RegisterAccountRoutes wires account provisioning and balance endpoints.
// Approvals are moderator actions.
func RegisterAccountRoutes(r fiber.Router, auth, admin fiber.Handler, h *accounts.Handler) {
	r.Get("/approveUser", admin, h.ApproveUser)
	r.Get("/approveGroup", admin, h.ApproveGroup)
	r.Post("/groups", auth, h.CreateGroup)
	r.Get("/balance", auth, h.Balance)
	r.Get("/refreshBalance", auth, h.RefreshBalance)
}
