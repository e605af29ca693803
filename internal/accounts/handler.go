package accounts

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/kompanio/timebank/internal/balance"
	"github.com/kompanio/timebank/internal/identity"
)

// Handler exposes account provisioning and balance endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ApproveUser opens the account of the member named by ?uid=.
func (h *Handler) ApproveUser(c *fiber.Ctx) error {
	uid := c.Query("uid")
	if uid == "" {
		return fiber.NewError(http.StatusBadRequest, "uid is required")
	}
	if err := h.service.ApproveUser(c.UserContext(), uid); err != nil {
		return accountError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "approved", "uid": uid})
}

// ApproveGroup opens the account of the group named by ?gid=.
func (h *Handler) ApproveGroup(c *fiber.Ctx) error {
	gid := c.Query("gid")
	if gid == "" {
		return fiber.NewError(http.StatusBadRequest, "gid is required")
	}
	if err := h.service.ApproveGroup(c.UserContext(), gid); err != nil {
		return accountError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "approved", "gid": gid})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

// CreateGroup records a pending group owned by the caller.
func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	gid, err := h.service.CreateGroup(c.UserContext(), uid, req.Name)
	if err != nil {
		return accountError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"gid": gid})
}

// Balance returns the projected balance of ?accountId=.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.Balance(c.UserContext(), uid, c.Query("accountId"))
	if err != nil {
		return accountError(err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// RefreshBalance re-derives ?accountId= from its legs.
func (h *Handler) RefreshBalance(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	view, err := h.service.Refresh(c.UserContext(), uid, c.Query("accountId"))
	if err != nil {
		return accountError(err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

func accountError(err error) error {
	switch {
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, ErrGroupNotFound), errors.Is(err, balance.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAccountExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidGroup):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
