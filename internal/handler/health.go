package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sqlx.DB and by a small adapter over the Redis
// client.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health answers load balancers with "ok" while the process is up.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports whether every dependency answers a ping within a second.
func Ready(deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
		defer cancel()
		down := map[string]string{}
		for name, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				down[name] = err.Error()
			}
		}
		if len(down) > 0 {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "down": down})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}
