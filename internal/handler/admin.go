package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/account"
	"github.com/iliyamo/reservation-admin/internal/booking"
	"github.com/iliyamo/reservation-admin/internal/inventory"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/session"
)

// AdminHandler exposes account transitions, forced cancellation and item
// retirement to administrators.
type AdminHandler struct {
	Accounts *account.Orchestrator
	Bookings *booking.Controller
	Items    *inventory.Retirer
	Sessions *session.Manager
	Timeout  time.Duration
}

func NewAdminHandler(accounts *account.Orchestrator, bookings *booking.Controller, items *inventory.Retirer,
	sessions *session.Manager, timeout time.Duration) *AdminHandler {
	return &AdminHandler{Accounts: accounts, Bookings: bookings, Items: items, Sessions: sessions, Timeout: timeout}
}

func discoveryJSON(c echo.Context, d booking.Discovery) error {
	return c.JSON(http.StatusOK, echo.Map{"in_hand": views(d.InHand), "pending": views(d.Pending)})
}

// AccountBookings handles GET /v1/admin/accounts/:id/bookings?as=customer|staff.
func (h *AdminHandler) AccountBookings(c echo.Context) error {
	id := c.Param("id")
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	var (
		d   booking.Discovery
		err error
	)
	switch c.QueryParam("as") {
	case "", "customer":
		d, err = h.Bookings.DiscoverAccountBookings(ctx, id)
	case "staff":
		d, err = h.Bookings.DiscoverStaffBookings(ctx, id)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "as must be customer or staff"})
	}
	if err != nil {
		return fail(c, err)
	}
	return discoveryJSON(c, d)
}

type changeRoleReq struct {
	Role    string `json:"role"`
	Confirm bool   `json:"confirm"`
}

// ChangeRole handles PATCH /v1/admin/accounts/:id/role.
func (h *AdminHandler) ChangeRole(c echo.Context) error {
	var req changeRoleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	role, ok := model.ParseRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if !ok {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "unknown role"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	res, err := h.Accounts.TransitionRole(ctx, c.Param("id"), role, req.Confirm)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}

type deleteAccountReq struct {
	Confirm bool   `json:"confirm"`
	Ban     bool   `json:"ban"`
	Reason  string `json:"reason"`
	Note    string `json:"note"`
}

// DeleteAccount handles POST /v1/admin/accounts/:id/delete.
func (h *AdminHandler) DeleteAccount(c echo.Context) error {
	var req deleteAccountReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	res, err := h.Accounts.DeleteAccount(ctx, c.Param("id"), req.Confirm, account.BanOptions{
		Ban:    req.Ban,
		Reason: strings.TrimSpace(req.Reason),
		Note:   strings.TrimSpace(req.Note),
	})
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}

// RevokeSessions handles POST /v1/admin/accounts/:id/revoke-sessions.
func (h *AdminHandler) RevokeSessions(c echo.Context) error {
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()
	if err := h.Sessions.RevokeAll(ctx, c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type banReq struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Ban handles POST /v1/admin/bans.
func (h *AdminHandler) Ban(c echo.Context) error {
	var req banReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	res, err := h.Accounts.Ban(ctx, email, strings.TrimSpace(req.Reason))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}

// Unban handles DELETE /v1/admin/bans/:email.
func (h *AdminHandler) Unban(c echo.Context) error {
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()
	res, err := h.Accounts.Unban(ctx, strings.ToLower(c.Param("email")))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}

func itemID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// ItemBookings handles GET /v1/admin/items/:id/bookings.
func (h *AdminHandler) ItemBookings(c echo.Context) error {
	id, ok := itemID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()
	d, err := h.Bookings.DiscoverItemBookings(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return discoveryJSON(c, d)
}

type retireReq struct {
	Action  string `json:"action"`
	Confirm bool   `json:"confirm"`
}

// RetireItem handles POST /v1/admin/items/:id/retire.
func (h *AdminHandler) RetireItem(c echo.Context) error {
	id, ok := itemID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req retireReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	action, ok := inventory.ParseAction(req.Action)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "action must be maintenance or delete"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()

	res, err := h.Items.Retire(ctx, id, action, req.Confirm)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}

type cancelReq struct {
	OrderIDs []int64 `json:"order_ids"`
	SlotIDs  []int64 `json:"slot_ids"`
	Reason   string  `json:"reason"`
	Confirm  bool    `json:"confirm"`
}

func (r cancelReq) reason() string {
	if s := strings.TrimSpace(r.Reason); s != "" {
		return s
	}
	return "Canceled by an administrator"
}

// CancelOrders handles POST /v1/admin/orders/cancel.  Without confirm the
// pending orders are only reported.
func (h *AdminHandler) CancelOrders(c echo.Context) error {
	var req cancelReq
	if err := c.Bind(&req); err != nil || len(req.OrderIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_ids required"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()
	res, err := h.Bookings.CancelOrders(ctx, req.OrderIDs, req.reason(), req.Confirm)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}

// CancelSlots handles POST /v1/admin/slots/cancel.
func (h *AdminHandler) CancelSlots(c echo.Context) error {
	var req cancelReq
	if err := c.Bind(&req); err != nil || len(req.SlotIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slot_ids required"})
	}
	ctx, cancel := withTimeout(c, h.Timeout)
	defer cancel()
	res, err := h.Bookings.CancelSlots(ctx, req.SlotIDs, req.reason(), req.Confirm)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, res)
}
