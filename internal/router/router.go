// Package router registers the HTTP surface of the service on an Echo
// instance.
package router

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/handler"
	"github.com/iliyamo/reservation-admin/internal/middleware"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// RegisterRoutes mounts device identity on every route and the
// unauthenticated probes.
func RegisterRoutes(e *echo.Echo, codec middleware.DeviceCodec, secure bool, ready echo.HandlerFunc) {
	e.Use(middleware.DeviceIdentity(codec, secure))
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// RegisterSession mounts login, logout and /v1/me. Login is rate limited
// per IP and device.
func RegisterSession(e *echo.Echo, h *handler.SessionHandler, v middleware.SessionValidator,
	rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1/auth")
	g.POST("/login", h.Login, middleware.NewTokenBucket(rl, rdb))
	g.POST("/logout", h.Logout)

	e.GET("/v1/me", h.Me, middleware.SessionAuth(v, h.Cfg.CookieSecure, h.Cfg.RequestTimeout))
}

// RegisterAdmin mounts the administrator routes behind a session with the
// admin role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, v middleware.SessionValidator, secure bool, timeout time.Duration) {
	g := e.Group("/v1/admin",
		middleware.SessionAuth(v, secure, timeout),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("/accounts/:id/bookings", h.AccountBookings)
	g.PATCH("/accounts/:id/role", h.ChangeRole)
	g.POST("/accounts/:id/delete", h.DeleteAccount)
	g.POST("/accounts/:id/revoke-sessions", h.RevokeSessions)

	g.POST("/bans", h.Ban)
	g.DELETE("/bans/:email", h.Unban)

	g.GET("/items/:id/bookings", h.ItemBookings)
	g.POST("/items/:id/retire", h.RetireItem)

	g.POST("/orders/cancel", h.CancelOrders)
	g.POST("/slots/cancel", h.CancelSlots)
}

// RegisterInternal mounts the collaborator routes behind a service token.
func RegisterInternal(e *echo.Echo, h *handler.InternalHandler, serviceSecret string) {
	g := e.Group("/internal", middleware.ServiceAuth(serviceSecret))
	g.POST("/sessions/validate", h.Validate)
	g.POST("/sessions/revoke", h.Revoke)
}
