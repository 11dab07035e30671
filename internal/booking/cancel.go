package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
)

// errInHand rolls back a forced cancellation that found an order in hand
// once its rows were locked.  Nothing has been written at that point.
var errInHand = errors.New("order in hand")

// lockCancelable fails with errInHand when any locked order is blocking.
func lockCancelable(op string, refs []model.BookingRef, err error) error {
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if d := classify(refs); len(d.InHand) > 0 {
		return errInHand
	}
	return nil
}

// inHand turns errInHand into a lost race so callers rediscover and end
// up Blocked.
func (c *Controller) inHand(err error, fields logging.Fields) (outcome.Result, error) {
	if errors.Is(err, errInHand) {
		c.log.Info(logging.CancelInHand, fields)
		return outcome.Race("an order in scope is in hand"), nil
	}
	return nil, err
}

// cancelScope is what cancelLines changed.
type cancelScope struct {
	lines    []model.CancelLine
	canceled []int64
}

// cancelOrders runs the booking-level steps for orderIDs: cancel the live
// line items, refund them, cancel the orders and free the unavailability
// marks rooted at their slots.  Must run inside a transaction.
func (c *Controller) cancelOrders(ctx context.Context, op string, orderIDs []int64) (cancelScope, error) {
	lines, err := c.store.ActiveLines(ctx, orderIDs)
	if err != nil {
		return cancelScope{}, apperr.FromStore(op, err)
	}
	if _, err := c.store.CancelLines(ctx, orderIDs); err != nil {
		return cancelScope{}, apperr.FromStore(op, err)
	}
	if err := c.store.CreditPoints(ctx, refunds(lines)); err != nil {
		return cancelScope{}, apperr.FromStore(op, err)
	}
	canceled, err := c.store.CancelOrders(ctx, orderIDs)
	if err != nil {
		return cancelScope{}, apperr.FromStore(op, err)
	}
	if err := c.freeUnavailability(ctx, op, lines); err != nil {
		return cancelScope{}, err
	}
	return cancelScope{lines: lines, canceled: canceled}, nil
}

func (c *Controller) freeUnavailability(ctx context.Context, op string, lines []model.CancelLine) error {
	if len(lines) == 0 {
		return nil
	}
	neighbors, err := c.graph.Neighbors(ctx, lineSlots(lines))
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if _, err := c.graph.DeleteUnavailability(ctx, unavailability(lines, neighbors)); err != nil {
		return apperr.FromStore(op, err)
	}
	return nil
}

func (c *Controller) enqueue(ctx context.Context, op string, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return apperr.FromStore(op, c.tasks.Enqueue(ctx, tasks))
}

// ForceCancelBookings cancels the given orders with refunds and notifies
// each customer and assigned staff member.  Orders that are already
// canceled or complete are skipped; when nothing is left the result is a
// Success with Noop set.  An order found in hand under lock rolls
// everything back and yields a Race.
func (c *Controller) ForceCancelBookings(ctx context.Context, orderIDs []int64, reason string) (outcome.Result, error) {
	const op = "booking.force_cancel_bookings"
	var scope cancelScope
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		refs, err := c.store.LockOrders(ctx, orderIDs)
		if err := lockCancelable(op, refs, err); err != nil {
			return err
		}
		scope, err = c.cancelOrders(ctx, op, orderIDs)
		if err != nil {
			return err
		}
		return c.enqueue(ctx, op, orderNotices(scope.lines, reason, true))
	})
	if err != nil {
		return c.inHand(err, logging.Fields{"orders": fmt.Sprint(orderIDs)})
	}
	if len(scope.lines) == 0 && len(scope.canceled) == 0 {
		c.log.Info(logging.NothingToCancel, logging.Fields{"orders": fmt.Sprint(orderIDs)})
		return outcome.Success{Noop: true}, nil
	}
	c.log.Info(logging.BookingsCanceled, logging.Fields{
		"orders": fmt.Sprint(scope.canceled),
		"lines":  fmt.Sprint(len(scope.lines)),
		"reason": reason,
	})
	return outcome.Success{CanceledOrders: scope.canceled}, nil
}

// ForceCancelSlots cancels open or hidden slots together with their
// bookings.  Customers get a booking notice, each slot's staff member gets
// one slot notice (also for slots without bookings) and the slots' adjacency
// edges are removed last.  The slots' orders are locked first; one in hand
// rolls everything back and yields a Race.
func (c *Controller) ForceCancelSlots(ctx context.Context, slotIDs []int64, reason string) (outcome.Result, error) {
	const op = "booking.force_cancel_slots"
	var (
		slots []model.CanceledSlot
		scope cancelScope
	)
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		refs, err := c.store.LockSlotOrders(ctx, slotIDs)
		if err := lockCancelable(op, refs, err); err != nil {
			return err
		}
		if slots, err = c.store.CancelSlots(ctx, slotIDs); err != nil {
			return apperr.FromStore(op, err)
		}
		if scope, err = c.cancelOrders(ctx, op, outcome.OrderIDs(refs)); err != nil {
			return err
		}

		perSlot := make(map[int64]int)
		for _, g := range groupByOrder(scope.lines) {
			perSlot[g.line.SlotID]++
		}
		tasks := orderNotices(scope.lines, reason, false)
		tasks = append(tasks, slotNotices(slots, perSlot, reason)...)
		if err := c.enqueue(ctx, op, tasks); err != nil {
			return err
		}

		if _, err := c.graph.DeleteSlotEdges(ctx, slotIDs); err != nil {
			return apperr.FromStore(op, err)
		}
		return nil
	})
	if err != nil {
		return c.inHand(err, logging.Fields{"slots": fmt.Sprint(slotIDs)})
	}

	canceledSlots := make([]int64, 0, len(slots))
	for _, s := range slots {
		canceledSlots = append(canceledSlots, s.SlotID)
	}
	if len(canceledSlots) == 0 && len(scope.canceled) == 0 {
		c.log.Info(logging.NothingToCancel, logging.Fields{"slots": fmt.Sprint(slotIDs)})
		return outcome.Success{Noop: true}, nil
	}
	c.log.Info(logging.SlotsCanceled, logging.Fields{
		"slots":  fmt.Sprint(canceledSlots),
		"orders": fmt.Sprint(scope.canceled),
		"reason": reason,
	})
	return outcome.Success{CanceledOrders: scope.canceled, CanceledSlots: canceledSlots}, nil
}

// ForceCancelItem cancels only the line items of itemID within the given
// orders.  An order is canceled once it has no live line item left.
func (c *Controller) ForceCancelItem(ctx context.Context, orderIDs []int64, itemID int64, reason string) (outcome.Result, error) {
	const op = "booking.force_cancel_item"
	var (
		lines   []model.CancelLine
		emptied []int64
	)
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		refs, err := c.store.LockOrders(ctx, orderIDs)
		if err := lockCancelable(op, refs, err); err != nil {
			return err
		}
		if lines, err = c.store.ActiveItemLines(ctx, orderIDs, itemID); err != nil {
			return apperr.FromStore(op, err)
		}
		if len(lines) == 0 {
			return nil
		}
		if _, err := c.store.CancelItemLines(ctx, orderIDs, itemID); err != nil {
			return apperr.FromStore(op, err)
		}
		if err := c.store.CreditPoints(ctx, refunds(lines)); err != nil {
			return apperr.FromStore(op, err)
		}
		if emptied, err = c.store.CancelEmptyOrders(ctx, orderIDs); err != nil {
			return apperr.FromStore(op, err)
		}
		if err := c.freeUnavailability(ctx, op, lines); err != nil {
			return err
		}
		return c.enqueue(ctx, op, orderNotices(lines, reason, true))
	})
	if err != nil {
		return c.inHand(err, logging.Fields{"item": fmt.Sprint(itemID), "orders": fmt.Sprint(orderIDs)})
	}
	if len(lines) == 0 {
		c.log.Info(logging.NothingToCancel, logging.Fields{"item": fmt.Sprint(itemID)})
		return outcome.Success{Noop: true}, nil
	}
	c.log.Info(logging.ItemCanceled, logging.Fields{
		"item":    fmt.Sprint(itemID),
		"lines":   fmt.Sprint(len(lines)),
		"emptied": fmt.Sprint(emptied),
		"reason":  reason,
	})
	return outcome.Success{CanceledOrders: emptied}, nil
}
