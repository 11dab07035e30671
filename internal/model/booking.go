package model

import "database/sql"

// OrderStatus is the lifecycle state of an order (booking).
//
//  pending → waitForDelivery → inHand → lateForDelivery|lateForReturn → complete
//
// with cancel reachable from any state before complete.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderWaitForDelivery OrderStatus = "waitForDelivery"
	OrderInHand          OrderStatus = "inHand"
	OrderLateForDelivery OrderStatus = "lateForDelivery"
	OrderLateForReturn   OrderStatus = "lateForReturn"
	OrderComplete        OrderStatus = "complete"
	OrderCancel          OrderStatus = "cancel"
)

// ActiveOrderStatuses are the statuses discovery looks at: every blocking
// and every cancelable status.
var ActiveOrderStatuses = []OrderStatus{
	OrderPending,
	OrderWaitForDelivery,
	OrderInHand,
	OrderLateForDelivery,
	OrderLateForReturn,
}

// CancelableOrderStatuses are the only statuses a forced cancellation
// touches.
var CancelableOrderStatuses = []OrderStatus{
	OrderPending,
	OrderWaitForDelivery,
	OrderLateForDelivery,
}

// Blocking reports physical possession of the booked items.  Such orders
// are never force-canceled.
func (s OrderStatus) Blocking() bool {
	return s == OrderInHand || s == OrderLateForReturn
}

// Cancelable reports an order without possession that may be force-canceled
// with a refund.
func (s OrderStatus) Cancelable() bool {
	switch s {
	case OrderPending, OrderWaitForDelivery, OrderLateForDelivery:
		return true
	}
	return false
}

// SlotStatus is the state of a schedulable slot.
type SlotStatus string

const (
	SlotOpen   SlotStatus = "open"
	SlotHidden SlotStatus = "hidden"
	SlotCancel SlotStatus = "cancel"
)

// LineCancel is the itemInOrder.status value of a canceled line item.
const LineCancel = "cancel"

// BookingRef is one row returned by a discovery query.  SlotID is always
// set; it is only meaningful to callers that cancel at slot granularity.
type BookingRef struct {
	OrderID int64       `db:"orderId" json:"order_id"`
	SlotID  int64       `db:"slotId" json:"slot_id"`
	Status  OrderStatus `db:"status" json:"status"`
}

// CancelLine is an active line item in cancellation scope, joined with the
// customer and the staff assigned to the slot.
type CancelLine struct {
	OrderID     int64          `db:"orderId"`
	ClientID    string         `db:"clientId"`
	SlotID      int64          `db:"slotId"`
	ItemID      int64          `db:"itemId"`
	Point       int64          `db:"itemPoint"`
	Refunded    bool           `db:"refunded"`
	ClientEmail string         `db:"clientEmail"`
	ClientName  string         `db:"clientName"`
	StaffID     sql.NullString `db:"staffId"`
	StaffEmail  sql.NullString `db:"staffEmail"`
	StaffName   sql.NullString `db:"staffName"`
}

// CanceledSlot is returned by the slot cancel statement together with the
// staff member to notify.
type CanceledSlot struct {
	SlotID     int64          `db:"slotId"`
	StaffID    sql.NullString `db:"staffId"`
	StaffEmail sql.NullString `db:"staffEmail"`
	StaffName  sql.NullString `db:"staffName"`
}

// UnavailabilityMark is a row of `unavailableItem`: ItemID is unavailable
// at SlotID because of a booking rooted at SourceSlotID.
type UnavailabilityMark struct {
	SlotID       int64 `db:"slotId"`
	ItemID       int64 `db:"itemId"`
	SourceSlotID int64 `db:"sourceSlotId"`
}

// Refund is a point credit for one customer account.
type Refund struct {
	AccountID string
	Points    int64
}
