// Package booking discovers in-flight bookings for an account or an item
// and force-cancels them with refunds and notifications.
//
// Every mutating caller follows the same pipeline: discover, then Decide
// (blocked or confirmation required), then force-cancel.  The forced
// operations run in one transaction and join the caller's transaction when
// ctx already carries one.
package booking

import (
	"context"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
)

// Store runs the discovery and cancellation statements.  Implemented by
// repository.BookingRepo and memory.BookingStore.
type Store interface {
	ClientBookings(ctx context.Context, accountID string) ([]model.BookingRef, error)
	StaffBookings(ctx context.Context, accountID string) ([]model.BookingRef, error)
	ItemBookings(ctx context.Context, itemID int64) ([]model.BookingRef, error)

	ActiveLines(ctx context.Context, orderIDs []int64) ([]model.CancelLine, error)
	ActiveItemLines(ctx context.Context, orderIDs []int64, itemID int64) ([]model.CancelLine, error)
	CancelLines(ctx context.Context, orderIDs []int64) (int64, error)
	CancelItemLines(ctx context.Context, orderIDs []int64, itemID int64) (int64, error)
	CreditPoints(ctx context.Context, refunds []model.Refund) error
	CancelOrders(ctx context.Context, orderIDs []int64) ([]int64, error)
	CancelEmptyOrders(ctx context.Context, orderIDs []int64) ([]int64, error)
	CancelSlots(ctx context.Context, slotIDs []int64) ([]model.CanceledSlot, error)

	LockOrders(ctx context.Context, orderIDs []int64) ([]model.BookingRef, error)
	LockSlotOrders(ctx context.Context, slotIDs []int64) ([]model.BookingRef, error)
}

// SlotGraph resolves slot adjacency and owns the unavailability marks.
type SlotGraph interface {
	Neighbors(ctx context.Context, slotIDs []int64) (map[int64][]int64, error)
	DeleteUnavailability(ctx context.Context, marks []model.UnavailabilityMark) (int64, error)
	DeleteSlotEdges(ctx context.Context, slotIDs []int64) (int64, error)
}

// TaskQueue appends notification tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, tasks []model.Task) error
}

type Controller struct {
	tx    database.TxRunner
	store Store
	graph SlotGraph
	tasks TaskQueue
	log   logging.Logger
}

func NewController(tx database.TxRunner, store Store, graph SlotGraph, tasks TaskQueue, log logging.Logger) *Controller {
	return &Controller{tx: tx, store: store, graph: graph, tasks: tasks, log: log}
}

// Discovery splits in-flight bookings into blocking ones (items in hand)
// and cancelable ones.
type Discovery struct {
	InHand  []model.BookingRef
	Pending []model.BookingRef
}

// Empty reports that nothing is in flight.
func (d Discovery) Empty() bool { return len(d.InHand) == 0 && len(d.Pending) == 0 }

func classify(refs []model.BookingRef) Discovery {
	var d Discovery
	for _, r := range refs {
		switch {
		case r.Status.Blocking():
			d.InHand = append(d.InHand, r)
		case r.Status.Cancelable():
			d.Pending = append(d.Pending, r)
		}
	}
	return d
}

// DiscoverAccountBookings finds the bookings the account placed as a
// customer.
func (c *Controller) DiscoverAccountBookings(ctx context.Context, accountID string) (Discovery, error) {
	refs, err := c.store.ClientBookings(ctx, accountID)
	if err != nil {
		return Discovery{}, apperr.FromStore("booking.discover_account", err)
	}
	return classify(refs), nil
}

// DiscoverStaffBookings finds the bookings in open or hidden slots the
// account is assigned to.
func (c *Controller) DiscoverStaffBookings(ctx context.Context, accountID string) (Discovery, error) {
	refs, err := c.store.StaffBookings(ctx, accountID)
	if err != nil {
		return Discovery{}, apperr.FromStore("booking.discover_staff", err)
	}
	return classify(refs), nil
}

// DiscoverItemBookings finds the bookings holding a live line item for
// the item.
func (c *Controller) DiscoverItemBookings(ctx context.Context, itemID int64) (Discovery, error) {
	refs, err := c.store.ItemBookings(ctx, itemID)
	if err != nil {
		return Discovery{}, apperr.FromStore("booking.discover_item", err)
	}
	return classify(refs), nil
}

// DiscoverSlotBookings finds the active bookings in the given slots.
// Inside a transaction the orders stay locked until commit.
func (c *Controller) DiscoverSlotBookings(ctx context.Context, slotIDs []int64) (Discovery, error) {
	refs, err := c.store.LockSlotOrders(ctx, slotIDs)
	if err != nil {
		return Discovery{}, apperr.FromStore("booking.discover_slots", err)
	}
	return classify(refs), nil
}

// DiscoverOrders classifies the given orders, skipping those that are
// canceled or complete.
func (c *Controller) DiscoverOrders(ctx context.Context, orderIDs []int64) (Discovery, error) {
	refs, err := c.store.LockOrders(ctx, orderIDs)
	if err != nil {
		return Discovery{}, apperr.FromStore("booking.discover_orders", err)
	}
	return classify(refs), nil
}

// Decide applies the block-or-confirm rule.  A nil result means the caller
// may proceed, force-canceling d.Pending.
func Decide(d Discovery, confirmed bool) outcome.Result {
	if len(d.InHand) > 0 {
		return outcome.Blocked{InHand: d.InHand, Pending: d.Pending}
	}
	if len(d.Pending) > 0 && !confirmed {
		return outcome.ConfirmRequired{Pending: d.Pending}
	}
	return nil
}
