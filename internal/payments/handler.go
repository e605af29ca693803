package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/ledger"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Authorize checks a payment and returns the account its card pays from.
func (h *Handler) Authorize(c *fiber.Ctx) error {
	var p ledger.Payment
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.Authorize(c.UserContext(), p)
	var rejection Rejection
	switch {
	case errors.As(err, &rejection):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"message": string(rejection)})
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"account": card.Account, "older": card.Older})
}

// CardInfo returns the account bound to the card named by ?id=.
func (h *Handler) CardInfo(c *fiber.Ctx) error {
	account, err := h.service.CardAccount(c.UserContext(), c.Query("id"))
	switch {
	case errors.Is(err, ErrCardNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(account)
}

// Create records a payment for processing.
func (h *Handler) Create(c *fiber.Ctx) error {
	var p ledger.Payment
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)

	id, err := h.service.Create(c.UserContext(), uid, p)
	if err != nil {
		return paymentError(err)
	}
	stored, _, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"payment_id": id,
		"posted":     stored.Posted,
		"rejected":   stored.Rejected,
	})
}

// PutCard registers the card at :cardId.
func (h *Handler) PutCard(c *fiber.Ctx) error {
	var card ledger.Card
	if err := c.BodyParser(&card); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.PutCard(c.UserContext(), c.Params("cardId"), card); err != nil {
		return paymentError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func paymentError(err error) error {
	var rejection Rejection
	switch {
	case errors.As(err, &rejection):
		return fiber.NewError(http.StatusUnprocessableEntity, string(rejection))
	case errors.Is(err, ErrInvalidPayment):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotDelegate):
		return fiber.NewError(http.StatusForbidden, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
