// Package account sequences role changes, deletions and bans through the
// booking controller.  Every mutation locks the account row, resolves
// in-flight bookings (blocked, confirmation required or force-canceled),
// applies the change and re-runs discovery right before commit.  New work
// found by that final check aborts the transaction as a lost race, which is
// retried a bounded number of times.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/booking"
	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

// Accounts is the account and ban list store.
type Accounts interface {
	GetForUpdate(ctx context.Context, id string) (model.Account, error)
	UpdateRole(ctx context.Context, id string, role model.Role) error
	Anonymize(ctx context.Context, id, email, note string) error
	EmailInUse(ctx context.Context, email, exceptID string) (bool, error)
	InsertBan(ctx context.Context, b model.Ban) error
	DeleteBan(ctx context.Context, email string) error
}

// Bookings is the part of booking.Controller the orchestrator drives.
type Bookings interface {
	DiscoverAccountBookings(ctx context.Context, accountID string) (booking.Discovery, error)
	DiscoverStaffBookings(ctx context.Context, accountID string) (booking.Discovery, error)
	DiscoverSlotBookings(ctx context.Context, slotIDs []int64) (booking.Discovery, error)
	ForceCancelBookings(ctx context.Context, orderIDs []int64, reason string) (outcome.Result, error)
	ForceCancelSlots(ctx context.Context, slotIDs []int64, reason string) (outcome.Result, error)
}

// DurableSessions deletes session rows inside the deletion transaction.
type DurableSessions interface {
	DeleteByUser(ctx context.Context, userID string) ([]string, error)
}

// SessionRevoker drops every live session of a user, cache included.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) error
}

// BanOptions qualify a deletion.  Reason is appended to the account note
// and recorded on the ban entry; Note is free text appended after it.
type BanOptions struct {
	Ban    bool
	Reason string
	Note   string
}

const maxAttempts = 3

// errAbort rolls back a transaction whose result is already decided.
var errAbort = errors.New("transition aborted")

type Orchestrator struct {
	tx       database.TxRunner
	accounts Accounts
	bookings Bookings
	sessions DurableSessions
	revoker  SessionRevoker
	tasks    booking.TaskQueue
	log      logging.Logger
	now      func() time.Time
}

func NewOrchestrator(tx database.TxRunner, accounts Accounts, bookings Bookings, sessions DurableSessions,
	revoker SessionRevoker, tasks booking.TaskQueue, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		tx:       tx,
		accounts: accounts,
		bookings: bookings,
		sessions: sessions,
		revoker:  revoker,
		tasks:    tasks,
		log:      log,
		now:      time.Now,
	}
}

// check names the discovery a transition runs.
type check int

const (
	checkNone check = iota
	checkCustomer
	checkStaff
)

// roleChangeCheck is the transition table for role changes.  ok is false
// for transitions that are never allowed.
func roleChangeCheck(from, to model.Role) (c check, ok bool) {
	switch from {
	case model.RoleCustomer:
		switch to {
		case model.RoleStaff, model.RoleAdmin:
			return checkCustomer, true
		case model.RoleCustomer:
			return checkNone, true
		case model.RolePending, model.RoleDeleted:
			return checkNone, false
		}
	case model.RoleStaff, model.RoleAdmin:
		switch to {
		case model.RoleCustomer:
			return checkStaff, true
		case model.RoleStaff, model.RoleAdmin:
			return checkNone, true
		case model.RolePending, model.RoleDeleted:
			return checkNone, false
		}
	case model.RolePending, model.RoleDeleted:
		return checkNone, false
	}
	return checkNone, false
}

// deleteCheck is the transition table for deletion.  An empty refusal
// means the deletion may proceed.
func deleteCheck(role model.Role) (c check, refusal string) {
	switch role {
	case model.RoleCustomer:
		return checkCustomer, ""
	case model.RoleStaff:
		return checkStaff, ""
	case model.RoleAdmin:
		return checkNone, "admin accounts must be demoted before deletion"
	case model.RolePending, model.RoleDeleted:
		return checkNone, fmt.Sprintf("cannot delete an account with role %s", role)
	}
	return checkNone, fmt.Sprintf("unknown role %s", role)
}

func (o *Orchestrator) discover(ctx context.Context, id string, c check) (booking.Discovery, error) {
	switch c {
	case checkCustomer:
		return o.bookings.DiscoverAccountBookings(ctx, id)
	case checkStaff:
		return o.bookings.DiscoverStaffBookings(ctx, id)
	case checkNone:
		return booking.Discovery{}, nil
	}
	return booking.Discovery{}, fmt.Errorf("unknown check %d", c)
}

// resolve discovers the account's in-flight bookings and force-cancels the
// cancelable ones once confirmed.  A non-nil result stops the transition.
func (o *Orchestrator) resolve(ctx context.Context, id string, c check, confirmed bool, reason string) (outcome.Result, outcome.Success, error) {
	var none outcome.Success
	d, err := o.discover(ctx, id, c)
	if err != nil {
		return nil, none, err
	}
	if r := booking.Decide(d, confirmed); r != nil {
		return r, none, nil
	}
	if len(d.Pending) == 0 {
		return nil, none, nil
	}

	var forced outcome.Result
	switch c {
	case checkCustomer:
		forced, err = o.bookings.ForceCancelBookings(ctx, outcome.OrderIDs(d.Pending), reason)
	case checkStaff:
		forced, err = o.bookings.ForceCancelSlots(ctx, outcome.SlotIDs(d.Pending), reason)
	case checkNone:
		return nil, none, nil
	}
	if err != nil {
		return nil, none, err
	}
	s, ok := forced.(outcome.Success)
	if !ok {
		return forced, none, nil
	}
	return nil, s, nil
}

// recheck re-runs discovery right before commit.  Slots canceled by the
// transition no longer show up in staff discovery, so their orders are
// checked directly.
func (o *Orchestrator) recheck(ctx context.Context, id string, c check, forced outcome.Success) (outcome.Result, error) {
	d, err := o.discover(ctx, id, c)
	if err != nil {
		return nil, err
	}
	if len(forced.CanceledSlots) > 0 {
		slots, err := o.bookings.DiscoverSlotBookings(ctx, forced.CanceledSlots)
		if err != nil {
			return nil, err
		}
		d.InHand = append(d.InHand, slots.InHand...)
		d.Pending = append(d.Pending, slots.Pending...)
	}
	if !d.Empty() {
		return outcome.Race(fmt.Sprintf("%d booking(s) appeared during the transition", len(d.InHand)+len(d.Pending))), nil
	}
	return nil, nil
}

// run executes attempt in a transaction with bounded retries on lost
// races.  attempt sets *res and returns errAbort to roll back with a
// decided result.
func (o *Orchestrator) run(ctx context.Context, op, id string, attempt func(ctx context.Context, res *outcome.Result) error) (outcome.Result, error) {
	return outcome.RetryRace(maxAttempts, func() (outcome.Result, error) {
		var res outcome.Result
		err := o.tx.RunInTx(ctx, func(ctx context.Context) error {
			return attempt(ctx, &res)
		})
		if err != nil && !errors.Is(err, errAbort) {
			return nil, apperr.FromStore(op, err)
		}
		return res, nil
	}, func(n int) {
		o.log.Info(logging.TransitionRace, logging.Fields{"account": id, "op": op, "attempt": fmt.Sprint(n)})
	})
}

func (o *Orchestrator) load(ctx context.Context, id string, res *outcome.Result) (model.Account, error) {
	acc, err := o.accounts.GetForUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		*res = outcome.Error{Kind: apperr.KindNotFound, Detail: "account not found"}
		return model.Account{}, errAbort
	}
	return acc, err
}

// TransitionRole changes the account's role.  Customers becoming staff or
// admin lose their cancelable bookings; staff or admins becoming customers
// lose the cancelable bookings in their slots, whose slots are canceled.
func (o *Orchestrator) TransitionRole(ctx context.Context, id string, to model.Role, confirmed bool) (outcome.Result, error) {
	const op = "account.transition_role"
	if !to.Live() {
		return outcome.Error{Kind: apperr.KindInvalidTransition, Detail: fmt.Sprintf("cannot assign role %s", to)}, nil
	}
	var from model.Role
	r, err := o.run(ctx, op, id, func(ctx context.Context, res *outcome.Result) error {
		acc, err := o.load(ctx, id, res)
		if err != nil {
			return err
		}
		from = acc.Role
		if acc.Role == to {
			*res = outcome.Success{Noop: true}
			return nil
		}
		c, ok := roleChangeCheck(acc.Role, to)
		if !ok {
			*res = outcome.Error{Kind: apperr.KindInvalidTransition, Detail: fmt.Sprintf("cannot change role %s to %s", acc.Role, to)}
			return errAbort
		}

		stop, forced, err := o.resolve(ctx, id, c, confirmed, fmt.Sprintf("Role change %s -> %s", acc.Role, to))
		if err != nil {
			return err
		}
		if stop != nil {
			*res = stop
			return errAbort
		}
		if err := o.accounts.UpdateRole(ctx, id, to); err != nil {
			return err
		}
		if err := o.tasks.Enqueue(ctx, []model.Task{model.NewEmailTask(model.EmailRoleChange, acc.Email, map[string]any{
			"name":     acc.Name,
			"old_role": string(acc.Role),
			"new_role": string(to),
		})}); err != nil {
			return err
		}
		if race, err := o.recheck(ctx, id, c, forced); err != nil || race != nil {
			if err != nil {
				return err
			}
			*res = race
			return errAbort
		}
		*res = outcome.Success{CanceledOrders: forced.CanceledOrders, CanceledSlots: forced.CanceledSlots}
		return nil
	})
	if err == nil && outcome.OK(r) && !r.(outcome.Success).Noop {
		o.log.Info(logging.TransitionDone, logging.Fields{"account": id, "from": string(from), "to": string(to)})
	}
	return r, err
}

// DeleteAccount cancels the account's bookings like a demotion, deletes
// its sessions, rewrites its email to a non-deliverable unique form and
// optionally bans the original email.
func (o *Orchestrator) DeleteAccount(ctx context.Context, id string, confirmed bool, opts BanOptions) (outcome.Result, error) {
	const op = "account.delete"
	r, err := o.run(ctx, op, id, func(ctx context.Context, res *outcome.Result) error {
		acc, err := o.load(ctx, id, res)
		if err != nil {
			return err
		}
		c, refusal := deleteCheck(acc.Role)
		if refusal != "" {
			*res = outcome.Error{Kind: apperr.KindInvalidTransition, Detail: refusal}
			return errAbort
		}

		stop, forced, err := o.resolve(ctx, id, c, confirmed, fmt.Sprintf("Account deletion (%s)", acc.Role))
		if err != nil {
			return err
		}
		if stop != nil {
			*res = stop
			return errAbort
		}

		if _, err := o.sessions.DeleteByUser(ctx, id); err != nil {
			return err
		}
		note := acc.Note
		if opts.Reason != "" {
			note += "\nReason: " + opts.Reason
		}
		if opts.Note != "" {
			note += "\n" + opts.Note
		}
		if err := o.accounts.Anonymize(ctx, id, acc.Email+"@DELETE"+acc.ID, note); err != nil {
			return err
		}
		tasks := []model.Task{model.NewEmailTask(model.EmailDeleteAccount, acc.Email, map[string]any{
			"name":   acc.Name,
			"reason": opts.Reason,
		})}

		if opts.Ban {
			inUse, err := o.accounts.EmailInUse(ctx, acc.Email, acc.ID)
			if err != nil {
				return err
			}
			if inUse {
				*res = outcome.Error{Kind: apperr.KindConflict, Detail: "email is used by another live account"}
				return errAbort
			}
			if err := o.accounts.InsertBan(ctx, model.Ban{Email: acc.Email, Reason: opts.Reason, Timestamp: o.now()}); err != nil {
				return err
			}
			tasks = append(tasks, model.NewEmailTask(model.EmailBanAccount, acc.Email, map[string]any{
				"name":   acc.Name,
				"reason": opts.Reason,
			}))
		}
		if err := o.tasks.Enqueue(ctx, tasks); err != nil {
			return err
		}

		if race, err := o.recheck(ctx, id, c, forced); err != nil || race != nil {
			if err != nil {
				return err
			}
			*res = race
			return errAbort
		}
		*res = outcome.Success{CanceledOrders: forced.CanceledOrders, CanceledSlots: forced.CanceledSlots}
		return nil
	})
	if err != nil || !outcome.OK(r) {
		return r, err
	}

	if err := o.revoker.RevokeAll(ctx, id); err != nil {
		o.log.Warn(logging.DataIntegrityWarning, err, logging.Fields{"account": id, "step": "revoke cached sessions"})
	}
	o.log.Info(logging.AccountDeleted, logging.Fields{"account": id, "banned": fmt.Sprint(opts.Ban)})
	return r, nil
}

// Ban adds email to the ban list unless a live account uses it.
func (o *Orchestrator) Ban(ctx context.Context, email, reason string) (outcome.Result, error) {
	const op = "account.ban"
	var res outcome.Result
	err := o.tx.RunInTx(ctx, func(ctx context.Context) error {
		inUse, err := o.accounts.EmailInUse(ctx, email, "")
		if err != nil {
			return err
		}
		if inUse {
			res = outcome.Error{Kind: apperr.KindConflict, Detail: "email is used by a live account"}
			return errAbort
		}
		if err := o.accounts.InsertBan(ctx, model.Ban{Email: email, Reason: reason, Timestamp: o.now()}); err != nil {
			return err
		}
		res = outcome.Success{}
		return nil
	})
	if err != nil && !errors.Is(err, errAbort) {
		return nil, apperr.FromStore(op, err)
	}
	return res, nil
}

// Unban lifts a ban.
func (o *Orchestrator) Unban(ctx context.Context, email string) (outcome.Result, error) {
	err := o.accounts.DeleteBan(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return outcome.Error{Kind: apperr.KindNotFound, Detail: "email is not banned"}, nil
	}
	if err != nil {
		return nil, apperr.FromStore("account.unban", err)
	}
	return outcome.Success{}, nil
}
