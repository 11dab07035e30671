package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// BookingRepo runs the discovery and cancellation statements of the
// booking controller.  Every method joins the transaction carried by ctx,
// so a cancellation issued through TxManager.RunInTx is atomic.
type BookingRepo struct {
	db *sqlx.DB
}

func NewBookingRepo(db *sqlx.DB) *BookingRepo { return &BookingRepo{db: db} }

func statusArray(statuses []model.OrderStatus) pq.StringArray {
	out := make(pq.StringArray, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// activeStatuses is the discovery filter (blocking ∪ cancelable).
func activeStatuses() pq.StringArray { return statusArray(model.ActiveOrderStatuses) }

// cancelableStatuses bounds every cancel statement: an order in hand is
// never touched, whatever ids the caller passes.
func cancelableStatuses() pq.StringArray { return statusArray(model.CancelableOrderStatuses) }

// ClientBookings lists active orders placed by the account.
func (r *BookingRepo) ClientBookings(ctx context.Context, accountID string) ([]model.BookingRef, error) {
	var out []model.BookingRef
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`SELECT o."id" AS "orderId", o."slotId", o."status"
		 FROM "order" o
		 WHERE o."clientId" = $1 AND o."status" = ANY($2)
		 ORDER BY o."id"`,
		accountID, activeStatuses())
	return out, err
}

// StaffBookings lists active orders booked into open or hidden slots the
// account is assigned to.
func (r *BookingRepo) StaffBookings(ctx context.Context, accountID string) ([]model.BookingRef, error) {
	var out []model.BookingRef
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`SELECT o."id" AS "orderId", o."slotId", o."status"
		 FROM "order" o
		 JOIN "slot" s ON s."id" = o."slotId"
		 WHERE s."staffId" = $1
		   AND s."status" IN ('open','hidden')
		   AND o."status" = ANY($2)
		 ORDER BY o."id"`,
		accountID, activeStatuses())
	return out, err
}

// ItemBookings lists active orders holding a live line item for itemID.
func (r *BookingRepo) ItemBookings(ctx context.Context, itemID int64) ([]model.BookingRef, error) {
	var out []model.BookingRef
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`SELECT DISTINCT o."id" AS "orderId", o."slotId", o."status"
		 FROM "order" o
		 JOIN "itemInOrder" io ON io."orderId" = o."id"
		 WHERE io."itemId" = $1
		   AND io."status" <> 'cancel'
		   AND o."status" = ANY($2)
		 ORDER BY o."id"`,
		itemID, activeStatuses())
	return out, err
}

const cancelLineSelect = `
	SELECT o."id" AS "orderId", o."clientId", o."slotId",
	       io."itemId", io."point" AS "itemPoint", io."refunded",
	       c."email" AS "clientEmail", c."name" AS "clientName",
	       s."staffId", st."email" AS "staffEmail", st."name" AS "staffName"
	FROM "itemInOrder" io
	JOIN "order" o ON o."id" = io."orderId"
	JOIN "account" c ON c."id" = o."clientId"
	JOIN "slot" s ON s."id" = o."slotId"
	LEFT JOIN "account" st ON st."id" = s."staffId"
	WHERE o."id" = ANY($1)
	  AND o."status" = ANY($2)
	  AND io."status" <> 'cancel'`

// ActiveLines locks and returns the live line items of the given orders,
// skipping orders that are not cancelable.
func (r *BookingRepo) ActiveLines(ctx context.Context, orderIDs []int64) ([]model.CancelLine, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var out []model.CancelLine
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		cancelLineSelect+` ORDER BY o."id", io."id" FOR UPDATE OF io, o`,
		pq.Array(orderIDs), cancelableStatuses())
	return out, err
}

// ActiveItemLines is ActiveLines narrowed to one item.
func (r *BookingRepo) ActiveItemLines(ctx context.Context, orderIDs []int64, itemID int64) ([]model.CancelLine, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var out []model.CancelLine
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		cancelLineSelect+` AND io."itemId" = $3 ORDER BY o."id", io."id" FOR UPDATE OF io, o`,
		pq.Array(orderIDs), cancelableStatuses(), itemID)
	return out, err
}

// CancelLines marks every live line item of the given orders canceled and
// refunded.  Lines already canceled are excluded by predicate.
func (r *BookingRepo) CancelLines(ctx context.Context, orderIDs []int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "itemInOrder" io
		 SET "status" = 'cancel', "refunded" = true
		 FROM "order" o
		 WHERE io."orderId" = o."id"
		   AND o."id" = ANY($1)
		   AND o."status" = ANY($2)
		   AND io."status" <> 'cancel'`,
		pq.Array(orderIDs), cancelableStatuses())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CancelItemLines is CancelLines narrowed to one item.
func (r *BookingRepo) CancelItemLines(ctx context.Context, orderIDs []int64, itemID int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "itemInOrder" io
		 SET "status" = 'cancel', "refunded" = true
		 FROM "order" o
		 WHERE io."orderId" = o."id"
		   AND o."id" = ANY($1)
		   AND io."itemId" = $2
		   AND o."status" = ANY($3)
		   AND io."status" <> 'cancel'`,
		pq.Array(orderIDs), itemID, cancelableStatuses())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreditPoints adds each refund to the account's point balance in a single
// statement.  Accounts that are not customers are never credited.
func (r *BookingRepo) CreditPoints(ctx context.Context, refunds []model.Refund) error {
	accounts, points := refundColumns(refunds)
	if len(accounts) == 0 {
		return nil
	}
	_, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "account" a
		 SET "point" = COALESCE(a."point", 0) + r.pts
		 FROM unnest($1::varchar[], $2::bigint[]) AS r(id, pts)
		 WHERE a."id" = r.id AND a."role" = $3`,
		pq.Array(accounts), pq.Array(points), string(model.RoleCustomer))
	return err
}

// CancelOrders cancels the cancelable orders among orderIDs and returns the
// ids it changed.
func (r *BookingRepo) CancelOrders(ctx context.Context, orderIDs []int64) ([]int64, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &ids,
		`UPDATE "order" SET "status" = 'cancel'
		 WHERE "id" = ANY($1) AND "status" = ANY($2)
		 RETURNING "id"`,
		pq.Array(orderIDs), cancelableStatuses())
	return ids, err
}

// CancelEmptyOrders cancels those orders that have no live line item left.
func (r *BookingRepo) CancelEmptyOrders(ctx context.Context, orderIDs []int64) ([]int64, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &ids,
		`UPDATE "order" o SET "status" = 'cancel'
		 WHERE o."id" = ANY($1)
		   AND o."status" = ANY($2)
		   AND NOT EXISTS (
		       SELECT 1 FROM "itemInOrder" io
		       WHERE io."orderId" = o."id" AND io."status" <> 'cancel')
		 RETURNING o."id"`,
		pq.Array(orderIDs), cancelableStatuses())
	return ids, err
}

// CancelSlots cancels open or hidden slots and returns each one together
// with its assigned staff member.
func (r *BookingRepo) CancelSlots(ctx context.Context, slotIDs []int64) ([]model.CanceledSlot, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	var out []model.CanceledSlot
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`WITH c AS (
		     UPDATE "slot" SET "status" = 'cancel'
		     WHERE "id" = ANY($1) AND "status" IN ('open','hidden')
		     RETURNING "id", "staffId")
		 SELECT c."id" AS "slotId", c."staffId",
		        a."email" AS "staffEmail", a."name" AS "staffName"
		 FROM c LEFT JOIN "account" a ON a."id" = c."staffId"
		 ORDER BY c."id"`,
		pq.Array(slotIDs))
	return out, err
}

// LockOrders locks the active orders among orderIDs and returns them with
// their current status.
func (r *BookingRepo) LockOrders(ctx context.Context, orderIDs []int64) ([]model.BookingRef, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var out []model.BookingRef
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`SELECT "id" AS "orderId", "slotId", "status"
		 FROM "order"
		 WHERE "id" = ANY($1) AND "status" = ANY($2)
		 ORDER BY "id"
		 FOR UPDATE`,
		pq.Array(orderIDs), activeStatuses())
	return out, err
}

// LockSlotOrders locks the active orders booked into the slots.  Holding
// these locks keeps an order from reaching inHand while its slot is being
// canceled.
func (r *BookingRepo) LockSlotOrders(ctx context.Context, slotIDs []int64) ([]model.BookingRef, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	var out []model.BookingRef
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`SELECT "id" AS "orderId", "slotId", "status"
		 FROM "order"
		 WHERE "slotId" = ANY($1) AND "status" = ANY($2)
		 ORDER BY "id"
		 FOR UPDATE`,
		pq.Array(slotIDs), activeStatuses())
	return out, err
}
