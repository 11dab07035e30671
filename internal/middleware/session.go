package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/session"
)

// SessionCookie carries the session handle.
const SessionCookie = "cookieId"

// SessionValidator is the part of session.Manager the middleware needs.
type SessionValidator interface {
	ValidateFull(ctx context.Context, handle string, c session.Client) (session.Validation, error)
}

// SetSessionCookie writes handle as the session cookie.
func SetSessionCookie(c echo.Context, handle string, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    handle,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c echo.Context, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionAuth validates the session cookie with rotation. A rotated handle
// is written back to the cookie before the handler runs. Must be mounted
// after DeviceIdentity.
func SessionAuth(v SessionValidator, secure bool, timeout time.Duration) echo.MiddlewareFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ck, err := c.Cookie(SessionCookie)
			if err != nil || ck.Value == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not logged in"})
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			res, err := v.ValidateFull(ctx, ck.Value, session.Client{
				DeviceID:  DeviceID(c),
				IP:        c.RealIP(),
				UserAgent: c.Request().UserAgent(),
			})
			if err != nil {
				switch apperr.KindOf(err) {
				case apperr.KindTransient:
					return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "session store unavailable"})
				case apperr.KindSessionNotFound, apperr.KindSessionExpired, apperr.KindDeviceMismatch,
					apperr.KindRotationFailed, apperr.KindInvalidIdentity:
					ClearSessionCookie(c, secure)
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "session expired, please log in again"})
				}
				log.Printf("session auth: %v", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if res.Rotated {
				SetSessionCookie(c, res.Handle, secure)
			}
			c.Set(keyUserID, res.Identity.UserID)
			c.Set(keyRole, res.Identity.Role)
			c.Set(keySessionID, res.Identity.SessionID)
			return next(c)
		}
	}
}
