package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Authenticator issues and revokes tokens.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (Token, User, error)
	SignOut(ctx context.Context, uid string) error
}

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	auth    Authenticator
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, auth Authenticator) *Handler {
	return &Handler{service: service, auth: auth}
}

// CreateUser registers a member awaiting approval.
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var req Registration
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, profile, err := h.service.CreateUser(c.UserContext(), req)
	switch {
	case errors.Is(err, ErrInvalidRegistration):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrEmailTaken):
		return fiber.NewError(http.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"uid": uid, "data": profile})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	token, user, err := h.auth.SignIn(c.UserContext(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrUserDisabled):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"uid":          user.UID,
		"access_token": token.AccessToken,
		"expires_in":   token.ExpiresIn,
	})
}

// Logout invalidates the caller's tokens.
func (h *Handler) Logout(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	if err := h.auth.SignOut(c.UserContext(), uid); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// Me returns the caller's account record and profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user")
	}
	user, profile, err := h.service.Me(c.UserContext(), uid)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"uid":          user.UID,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"photo_url":    user.PhotoURL,
		"disabled":     user.Disabled,
		"created_at":   user.CreatedAt,
		"data":         profile,
	})
}

// Identities searches users, and groups when ?groups= is set, by name.
func (h *Handler) Identities(c *fiber.Ctx) error {
	matches, err := h.service.Search(c.UserContext(), c.Query("q"), c.Query("groups") != "")
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(matches)
}
