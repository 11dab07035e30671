package middleware

// identity.go holds the keys under which the middleware chain stores the
// caller's identity on the echo context, and the accessors handlers use to
// read it back.  Everything is request scoped; nothing is kept between
// requests.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/model"
)

const (
	keyDeviceID  = "device_id"
	keyUserID    = "user_id"
	keyRole      = "role"
	keySessionID = "session_id"
	keyService   = "service"
)

func str(c echo.Context, key string) string {
	if s, ok := c.Get(key).(string); ok {
		return s
	}
	return ""
}

// DeviceID is the stable device id set by DeviceIdentity.
func DeviceID(c echo.Context) string { return str(c, keyDeviceID) }

// UserID returns the authenticated account id, or "guest".
func UserID(c echo.Context) string {
	if s := str(c, keyUserID); s != "" {
		return s
	}
	return "guest"
}

// Role returns the authenticated role; empty when unauthenticated.
func Role(c echo.Context) model.Role {
	r, _ := c.Get(keyRole).(model.Role)
	return r
}

// SessionID returns the durable session id behind the presented handle.
func SessionID(c echo.Context) string { return str(c, keySessionID) }

// Service names the collaborator that authenticated with a service token.
func Service(c echo.Context) string { return str(c, keyService) }
