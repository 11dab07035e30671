// Package outcome is the result type of every mutating booking operation.
// A Result is exactly one of Success, Blocked, ConfirmRequired or Error;
// callers switch on the concrete type.
package outcome

import (
	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// Result is implemented only by the four variants in this package.
type Result interface {
	isResult()
}

// Success reports a committed operation.  Noop is set when there was
// nothing left to cancel, which is not a failure.
type Success struct {
	CanceledOrders []int64
	CanceledSlots  []int64
	Noop           bool
}

// Blocked reports bookings in physical possession.  The operation is
// refused regardless of confirmation.
type Blocked struct {
	InHand  []model.BookingRef
	Pending []model.BookingRef
}

// ConfirmRequired reports cancelable bookings that will be force-canceled
// once the caller repeats the request with confirmation.
type ConfirmRequired struct {
	Pending []model.BookingRef
}

// Error is a structured refusal such as a lost race or an invalid
// transition.  Unexpected faults are returned as Go errors instead.
type Error struct {
	Kind   apperr.Kind
	Detail string
}

func (Success) isResult()         {}
func (Blocked) isResult()         {}
func (ConfirmRequired) isResult() {}
func (Error) isResult()           {}

// OK reports whether r is a Success.
func OK(r Result) bool {
	_, ok := r.(Success)
	return ok
}

// OrderIDs flattens refs into distinct order ids, preserving order.
func OrderIDs(refs []model.BookingRef) []int64 {
	seen := make(map[int64]bool, len(refs))
	out := make([]int64, 0, len(refs))
	for _, r := range refs {
		if !seen[r.OrderID] {
			seen[r.OrderID] = true
			out = append(out, r.OrderID)
		}
	}
	return out
}

// SlotIDs flattens refs into distinct slot ids, preserving order.
func SlotIDs(refs []model.BookingRef) []int64 {
	seen := make(map[int64]bool, len(refs))
	out := make([]int64, 0, len(refs))
	for _, r := range refs {
		if !seen[r.SlotID] {
			seen[r.SlotID] = true
			out = append(out, r.SlotID)
		}
	}
	return out
}

// Race is the result of a final re-check that found new work.
func Race(detail string) Error {
	return Error{Kind: apperr.KindConcurrencyRace, Detail: detail}
}

// IsRace reports whether r is a lost race.
func IsRace(r Result) bool {
	e, ok := r.(Error)
	return ok && e.Kind == apperr.KindConcurrencyRace
}

// RetryRace runs fn until it returns something other than a lost race, at
// most attempts times.  onRace is called after every lost attempt.  The
// last race result is returned when every attempt lost.
func RetryRace(attempts int, fn func() (Result, error), onRace func(attempt int)) (Result, error) {
	var (
		r   Result
		err error
	)
	for i := 1; i <= attempts; i++ {
		r, err = fn()
		if err != nil || !IsRace(r) {
			return r, err
		}
		if onRace != nil {
			onRace(i)
		}
	}
	return r, nil
}
