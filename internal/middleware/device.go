package middleware

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/deviceid"
)

// DeviceCodec issues and validates device tokens.
type DeviceCodec interface {
	IssueOrValidate(presented, sourceIP string) (deviceid.Identity, error)
}

// DeviceIdentity runs on every route. It validates the deviceId cookie and
// reissues it when missing or tampered with, then exposes the id through
// DeviceID.
func DeviceIdentity(codec DeviceCodec, secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			presented := ""
			if ck, err := c.Cookie(deviceid.CookieName); err == nil {
				presented = ck.Value
			}
			id, err := codec.IssueOrValidate(presented, c.RealIP())
			if err != nil {
				log.Printf("device identity: %v", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "device identity unavailable"})
			}
			if id.Issued {
				c.SetCookie(&http.Cookie{
					Name:     deviceid.CookieName,
					Value:    id.Token,
					Path:     "/",
					MaxAge:   int(deviceid.TokenLifetime.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			c.Set(keyDeviceID, id.ID)
			return next(c)
		}
	}
}
