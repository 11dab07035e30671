package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// SlotRepo resolves slot adjacency and maintains the unavailability marks
// derived from it.  Adjacency is stored once per unordered pair with
// slotMin < slotMax.
type SlotRepo struct {
	db *sqlx.DB
}

func NewSlotRepo(db *sqlx.DB) *SlotRepo { return &SlotRepo{db: db} }

type edge struct {
	SlotMin int64 `db:"slotMin"`
	SlotMax int64 `db:"slotMax"`
}

// Neighbors returns the direct neighbors of each requested slot.  Slots
// without edges are absent from the map.
func (r *SlotRepo) Neighbors(ctx context.Context, slotIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64)
	if len(slotIDs) == 0 {
		return out, nil
	}
	var edges []edge
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &edges,
		`SELECT "slotMin", "slotMax" FROM "neighborSlot"
		 WHERE "slotMin" = ANY($1) OR "slotMax" = ANY($1)
		 ORDER BY "slotMin", "slotMax"`,
		pq.Array(slotIDs))
	if err != nil {
		return nil, err
	}
	want := make(map[int64]bool, len(slotIDs))
	for _, id := range slotIDs {
		want[id] = true
	}
	for _, e := range edges {
		if want[e.SlotMin] {
			out[e.SlotMin] = append(out[e.SlotMin], e.SlotMax)
		}
		if want[e.SlotMax] {
			out[e.SlotMax] = append(out[e.SlotMax], e.SlotMin)
		}
	}
	return out, nil
}

// DeleteUnavailability removes exactly the given (slotId, itemId,
// sourceSlotId) triples.  Marks with another source slot are untouched.
func (r *SlotRepo) DeleteUnavailability(ctx context.Context, marks []model.UnavailabilityMark) (int64, error) {
	slots, items, sources := markColumns(marks)
	if len(slots) == 0 {
		return 0, nil
	}
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`DELETE FROM "unavailableItem" u
		 USING unnest($1::int[], $2::int[], $3::int[]) AS t(slot_id, item_id, source_id)
		 WHERE u."slotId" = t.slot_id
		   AND u."itemId" = t.item_id
		   AND u."sourceSlotId" = t.source_id`,
		pq.Array(slots), pq.Array(items), pq.Array(sources))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteSlotEdges drops every adjacency edge touching the given slots.
func (r *SlotRepo) DeleteSlotEdges(ctx context.Context, slotIDs []int64) (int64, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`DELETE FROM "neighborSlot" WHERE "slotMin" = ANY($1) OR "slotMax" = ANY($1)`,
		pq.Array(slotIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
