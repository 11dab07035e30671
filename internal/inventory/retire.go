// Package inventory retires catalog items: maintenance hides an item,
// delete removes it for good.  Both first resolve the item's in-flight
// bookings through the booking controller.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/booking"
	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

// Action is what happens to a retired item.
type Action string

const (
	ActionMaintenance Action = "maintenance"
	ActionDelete      Action = "delete"
)

// ParseAction accepts the two action names.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionMaintenance, ActionDelete:
		return Action(s), true
	}
	return "", false
}

func (a Action) status() model.ItemStatus {
	switch a {
	case ActionMaintenance:
		return model.ItemHide
	case ActionDelete:
		return model.ItemDeleted
	}
	return ""
}

type Items interface {
	GetForUpdate(ctx context.Context, id int64) (model.Item, error)
	SetStatus(ctx context.Context, id int64, status model.ItemStatus) error
}

type Bookings interface {
	DiscoverItemBookings(ctx context.Context, itemID int64) (booking.Discovery, error)
	ForceCancelItem(ctx context.Context, orderIDs []int64, itemID int64, reason string) (outcome.Result, error)
}

type Retirer struct {
	tx       database.TxRunner
	items    Items
	bookings Bookings
	log      logging.Logger
}

func NewRetirer(tx database.TxRunner, items Items, bookings Bookings, log logging.Logger) *Retirer {
	return &Retirer{tx: tx, items: items, bookings: bookings, log: log}
}

var errAbort = errors.New("retirement aborted")

const maxAttempts = 3

// Retire hides or deletes an item once none of its bookings is in hand.
// Cancelable bookings need confirmation; once confirmed only the item's
// line items are canceled.
func (r *Retirer) Retire(ctx context.Context, itemID int64, action Action, confirmed bool) (outcome.Result, error) {
	const op = "inventory.retire"
	status := action.status()
	if status == "" {
		return outcome.Error{Kind: apperr.KindInvalidTransition, Detail: fmt.Sprintf("unknown action %q", action)}, nil
	}

	res, err := outcome.RetryRace(maxAttempts, func() (outcome.Result, error) {
		var res outcome.Result
		err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
			it, err := r.items.GetForUpdate(ctx, itemID)
			if errors.Is(err, repository.ErrNotFound) {
				res = outcome.Error{Kind: apperr.KindNotFound, Detail: "item not found"}
				return errAbort
			}
			if err != nil {
				return err
			}
			if it.Status == model.ItemDeleted {
				res = outcome.Error{Kind: apperr.KindInvalidTransition, Detail: "item is already deleted"}
				return errAbort
			}

			d, err := r.bookings.DiscoverItemBookings(ctx, itemID)
			if err != nil {
				return err
			}
			if stop := booking.Decide(d, confirmed); stop != nil {
				res = stop
				return errAbort
			}
			var canceled []int64
			if len(d.Pending) > 0 {
				forced, err := r.bookings.ForceCancelItem(ctx, outcome.OrderIDs(d.Pending), itemID,
					fmt.Sprintf("Item %s (%s)", it.Name, action))
				if err != nil {
					return err
				}
				if s, ok := forced.(outcome.Success); ok {
					canceled = s.CanceledOrders
				}
			}
			if err := r.items.SetStatus(ctx, itemID, status); err != nil {
				return err
			}

			again, err := r.bookings.DiscoverItemBookings(ctx, itemID)
			if err != nil {
				return err
			}
			if !again.Empty() {
				res = outcome.Race("item was booked during retirement")
				return errAbort
			}
			res = outcome.Success{CanceledOrders: canceled}
			return nil
		})
		if err != nil && !errors.Is(err, errAbort) {
			return nil, apperr.FromStore(op, err)
		}
		return res, nil
	}, func(n int) {
		r.log.Info(logging.TransitionRace, logging.Fields{"item": fmt.Sprint(itemID), "attempt": fmt.Sprint(n)})
	})
	if err == nil && outcome.OK(res) {
		r.log.Info(logging.ItemRetired, logging.Fields{"item": fmt.Sprint(itemID), "action": string(action)})
	}
	return res, err
}
