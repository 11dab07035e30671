package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/outcome"
)

const maxAttempts = 3

var errDecided = errors.New("cancellation decided")

// guarded runs discover, Decide, force and a final discovery in one
// transaction, retrying lost races.  The final discovery must come back
// empty: anything still active in scope appeared after the first look.
func (c *Controller) guarded(ctx context.Context, op string, confirmed bool, fields logging.Fields,
	discover func(ctx context.Context) (Discovery, error),
	force func(ctx context.Context, d Discovery) (outcome.Result, error)) (outcome.Result, error) {
	return outcome.RetryRace(maxAttempts, func() (outcome.Result, error) {
		var res outcome.Result
		err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
			d, err := discover(ctx)
			if err != nil {
				return err
			}
			if stop := Decide(d, confirmed); stop != nil {
				res = stop
				return errDecided
			}
			forced, err := force(ctx, d)
			if err != nil {
				return err
			}
			if !outcome.OK(forced) {
				res = forced
				return errDecided
			}
			again, err := discover(ctx)
			if err != nil {
				return err
			}
			if !again.Empty() {
				res = outcome.Race(fmt.Sprintf("%d booking(s) appeared during cancellation", len(again.InHand)+len(again.Pending)))
				return errDecided
			}
			res = forced
			return nil
		})
		if err != nil && !errors.Is(err, errDecided) {
			return nil, apperr.FromStore(op, err)
		}
		return res, nil
	}, func(n int) {
		f := logging.Fields{"op": op, "attempt": fmt.Sprint(n)}
		for k, v := range fields {
			f[k] = v
		}
		c.log.Info(logging.CancelRace, f)
	})
}

// CancelSlots retires whole slots.  Any booking in hand in those slots
// blocks the request; cancelable bookings need confirmation and are then
// force-canceled together with the slots.
func (c *Controller) CancelSlots(ctx context.Context, slotIDs []int64, reason string, confirmed bool) (outcome.Result, error) {
	return c.guarded(ctx, "booking.cancel_slots", confirmed, logging.Fields{"slots": fmt.Sprint(slotIDs)},
		func(ctx context.Context) (Discovery, error) {
			return c.DiscoverSlotBookings(ctx, slotIDs)
		},
		func(ctx context.Context, _ Discovery) (outcome.Result, error) {
			return c.ForceCancelSlots(ctx, slotIDs, reason)
		})
}

// CancelOrders cancels individual orders under the same rules as
// CancelSlots.
func (c *Controller) CancelOrders(ctx context.Context, orderIDs []int64, reason string, confirmed bool) (outcome.Result, error) {
	return c.guarded(ctx, "booking.cancel_orders", confirmed, logging.Fields{"orders": fmt.Sprint(orderIDs)},
		func(ctx context.Context) (Discovery, error) {
			return c.DiscoverOrders(ctx, orderIDs)
		},
		func(ctx context.Context, d Discovery) (outcome.Result, error) {
			return c.ForceCancelBookings(ctx, outcome.OrderIDs(d.Pending), reason)
		})
}
