package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/session"
)

// InternalHandler lets collaborating services check handles and revoke a
// user's sessions. Callers authenticate with a service token.
type InternalHandler struct {
	Sessions *session.Manager
	Timeout  time.Duration
}

func NewInternalHandler(sessions *session.Manager, timeout time.Duration) *InternalHandler {
	return &InternalHandler{Sessions: sessions, Timeout: timeout}
}

type validateReq struct {
	Handle   string `json:"handle"`
	DeviceID string `json:"device_id"`
}

// Validate is the cache-only check; it never rotates.
func (h *InternalHandler) Validate(c echo.Context) error {
	var req validateReq
	if err := c.Bind(&req); err != nil || req.Handle == "" || req.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "handle and device_id required"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	id, err := h.Sessions.ValidateLight(ctx, req.Handle, req.DeviceID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":    id.UserID,
		"role":       id.Role,
		"device_id":  id.DeviceID,
		"session_id": id.SessionID,
	})
}

type revokeReq struct {
	UserID string `json:"user_id"`
}

// Revoke ends every session of a user.
func (h *InternalHandler) Revoke(c echo.Context) error {
	var req revokeReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id required"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	if err := h.Sessions.RevokeAll(ctx, req.UserID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
