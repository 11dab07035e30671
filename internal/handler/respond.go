package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
)

type bookingView struct {
	OrderID int64  `json:"order_id"`
	SlotID  int64  `json:"slot_id"`
	Status  string `json:"status"`
}

func views(refs []model.BookingRef) []bookingView {
	out := make([]bookingView, 0, len(refs))
	for _, r := range refs {
		out = append(out, bookingView{OrderID: r.OrderID, SlotID: r.SlotID, Status: string(r.Status)})
	}
	return out
}

func ids(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

// statusOf maps an error kind onto its HTTP status.
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindInvalidIdentity:
		return http.StatusBadRequest
	case apperr.KindSessionNotFound, apperr.KindSessionExpired, apperr.KindDeviceMismatch, apperr.KindRotationFailed:
		return http.StatusUnauthorized
	case apperr.KindConcurrencyBlocked, apperr.KindConcurrencyRace, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindConfirmRequired:
		return http.StatusPreconditionRequired
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindUnknown, apperr.KindConfiguration, apperr.KindDataIntegrity:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// respond writes the outcome of a mutating operation.
func respond(c echo.Context, res outcome.Result) error {
	switch r := res.(type) {
	case outcome.Success:
		return c.JSON(http.StatusOK, echo.Map{
			"status":          "ok",
			"noop":            r.Noop,
			"canceled_orders": ids(r.CanceledOrders),
			"canceled_slots":  ids(r.CanceledSlots),
		})
	case outcome.Blocked:
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   "bookings are in hand",
			"kind":    apperr.KindConcurrencyBlocked.String(),
			"in_hand": views(r.InHand),
			"pending": views(r.Pending),
		})
	case outcome.ConfirmRequired:
		return c.JSON(http.StatusPreconditionRequired, echo.Map{
			"error":   "bookings will be canceled, repeat with confirm=true",
			"kind":    apperr.KindConfirmRequired.String(),
			"pending": views(r.Pending),
		})
	case outcome.Error:
		return c.JSON(statusOf(r.Kind), echo.Map{"error": r.Detail, "kind": r.Kind.String()})
	}
	log.Printf("handler: unexpected result %T", res)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// fail writes an error returned by a service. Unclassified errors are
// logged and hidden from the client.
func fail(c echo.Context, err error) error {
	k := apperr.KindOf(err)
	status := statusOf(k)
	if status == http.StatusInternalServerError {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": http.StatusText(status), "kind": k.String()})
}

func withTimeout(c echo.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(c.Request().Context(), d)
}
