package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/flows"
)

// RegisterFlowRoutes wires flow, membership and universal budget endpoints.
// Flows move credits between arbitrary accounts, so all of them are moderator
// actions.
func RegisterFlowRoutes(r fiber.Router, admin fiber.Handler, h *flows.Handler) {
	r.Post("/flows", admin, h.Create)
	r.Put("/flows/:flowId", admin, h.Put)
	r.Delete("/flows/:flowId", admin, h.Delete)
	r.Put("/accounts/:accountId/members/:memberId", admin, h.Join)
	r.Delete("/accounts/:accountId/members/:memberId", admin, h.Leave)
	r.Put("/universal/:date/members", admin, h.PutUniversalMembers)
	r.Put("/universal/:date/flows/:accountId", admin, h.PutUniversalBudget)
}
