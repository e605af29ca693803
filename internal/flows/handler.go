package flows

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/ledger"
)

// Handler exposes flow, membership and universal budget endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a flow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create records a flow under a generated id.
func (h *Handler) Create(c *fiber.Ctx) error {
	var flow ledger.Flow
	if err := c.BodyParser(&flow); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	id, err := h.service.CreateFlow(c.UserContext(), flow)
	if err != nil {
		return flowError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"flowId": id})
}

// Put records or replaces the flow at :flowId.
func (h *Handler) Put(c *fiber.Ctx) error {
	var flow ledger.Flow
	if err := c.BodyParser(&flow); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.PutFlow(c.UserContext(), c.Params("flowId"), flow); err != nil {
		return flowError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"flowId": c.Params("flowId")})
}

// Delete removes the flow at :flowId.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteFlow(c.UserContext(), c.Params("flowId")); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

// Join adds :memberId to the group :accountId.
func (h *Handler) Join(c *fiber.Ctx) error {
	if err := h.service.Join(c.UserContext(), c.Params("accountId"), c.Params("memberId")); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

// Leave removes :memberId from the group :accountId.
func (h *Handler) Leave(c *fiber.Ctx) error {
	if err := h.service.Leave(c.UserContext(), c.Params("accountId"), c.Params("memberId")); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

type universalMembersRequest struct {
	Members int `json:"members"`
}

// PutUniversalMembers records the member count of :date.
func (h *Handler) PutUniversalMembers(c *fiber.Ctx) error {
	var req universalMembersRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.SetUniversalMembers(c.UserContext(), c.Params("date"), req.Members); err != nil {
		return flowError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// PutUniversalBudget records the budget :accountId pays for :date.
func (h *Handler) PutUniversalBudget(c *fiber.Ctx) error {
	var budget ledger.UniversalBudget
	if err := c.BodyParser(&budget); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.PutUniversalBudget(c.UserContext(), c.Params("date"), c.Params("accountId"), budget); err != nil {
		return flowError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func flowError(err error) error {
	switch {
	case errors.Is(err, ErrUnresolvedFlow), errors.Is(err, ErrInvalidFlow), errors.Is(err, ErrInvalidBudget):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
