package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/middleware"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/repository"
	"github.com/iliyamo/reservation-admin/internal/session"
	"github.com/iliyamo/reservation-admin/internal/utils"
)

// AccountFinder looks accounts up by login email.
type AccountFinder interface {
	GetByEmail(ctx context.Context, email string) (model.Account, error)
}

// SessionHandler serves login, logout and the current principal.
type SessionHandler struct {
	Cfg      config.Config
	Accounts AccountFinder
	Sessions *session.Manager
}

func NewSessionHandler(cfg config.Config, accounts AccountFinder, sessions *session.Manager) *SessionHandler {
	return &SessionHandler{Cfg: cfg, Accounts: accounts, Sessions: sessions}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPart struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

// Login verifies the password and opens a session bound to the caller's
// device. The handle travels only in the cookieId cookie.
func (h *SessionHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := withTimeout(c, h.Cfg.RequestTimeout)
	defer cancel()

	acc, err := h.Accounts.GetByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if err != nil {
		return fail(c, err)
	}
	if !utils.VerifyPassword(acc.Password, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if !acc.Role.Live() {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account is not active"})
	}

	handle, err := h.Sessions.Login(ctx, session.LoginParams{
		UserID:    acc.ID,
		DeviceID:  middleware.DeviceID(c),
		UserAgent: c.Request().UserAgent(),
		IP:        c.RealIP(),
		Role:      acc.Role,
	})
	if err != nil {
		return fail(c, err)
	}
	middleware.SetSessionCookie(c, handle, h.Cfg.CookieSecure)
	return c.JSON(http.StatusOK, echo.Map{
		"user": userPart{ID: acc.ID, Email: acc.Email, Name: acc.Name, Role: acc.Role},
	})
}

// Logout destroys the session when there is one and always clears the
// cookie.
func (h *SessionHandler) Logout(c echo.Context) error {
	if ck, err := c.Cookie(middleware.SessionCookie); err == nil && ck.Value != "" {
		ctx, cancel := withTimeout(c, h.Cfg.RequestTimeout)
		defer cancel()
		if err := h.Sessions.Logout(ctx, ck.Value); err != nil {
			log.Printf("logout: %v", err)
		}
	}
	middleware.ClearSessionCookie(c, h.Cfg.CookieSecure)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the principal resolved by SessionAuth.
func (h *SessionHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":    middleware.UserID(c),
		"role":       middleware.Role(c),
		"session_id": middleware.SessionID(c),
		"device_id":  middleware.DeviceID(c),
	})
}
