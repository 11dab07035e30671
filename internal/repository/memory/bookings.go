package memory

import (
	"context"
	"database/sql"
	"sort"

	"github.com/iliyamo/reservation-admin/internal/model"
)

// BookingStore mirrors repository.BookingRepo.
type BookingStore struct{ db *DB }

func (db *DB) Bookings() *BookingStore { return &BookingStore{db: db} }

func active(s model.OrderStatus) bool {
	for _, a := range model.ActiveOrderStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func cancelable(s model.OrderStatus) bool { return s.Cancelable() }

func idSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (t *tables) refs(keep func(o Order) bool) []model.BookingRef {
	var out []model.BookingRef
	for _, o := range t.orders {
		if active(o.Status) && keep(o) {
			out = append(out, model.BookingRef{OrderID: o.ID, SlotID: o.SlotID, Status: o.Status})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (b *BookingStore) ClientBookings(ctx context.Context, accountID string) ([]model.BookingRef, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.client"); err != nil {
		return nil, err
	}
	return db.t.refs(func(o Order) bool { return o.ClientID == accountID }), nil
}

func (b *BookingStore) StaffBookings(ctx context.Context, accountID string) ([]model.BookingRef, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.staff"); err != nil {
		return nil, err
	}
	return db.t.refs(func(o Order) bool {
		s, ok := db.t.slots[o.SlotID]
		return ok && s.StaffID == accountID && (s.Status == model.SlotOpen || s.Status == model.SlotHidden)
	}), nil
}

func (b *BookingStore) ItemBookings(ctx context.Context, itemID int64) ([]model.BookingRef, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.item"); err != nil {
		return nil, err
	}
	holding := make(map[int64]bool)
	for _, l := range db.t.lines {
		if l.ItemID == itemID && l.Status != model.LineCancel {
			holding[l.OrderID] = true
		}
	}
	return db.t.refs(func(o Order) bool { return holding[o.ID] }), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (t *tables) cancelLines(orderIDs []int64, itemID int64, all bool) []model.CancelLine {
	want := idSet(orderIDs)
	var out []model.CancelLine
	for _, l := range t.lines {
		o, ok := t.orders[l.OrderID]
		if !ok || !want[o.ID] || !cancelable(o.Status) || l.Status == model.LineCancel {
			continue
		}
		if !all && l.ItemID != itemID {
			continue
		}
		client := t.accounts[o.ClientID]
		cl := model.CancelLine{
			OrderID:     o.ID,
			ClientID:    o.ClientID,
			SlotID:      o.SlotID,
			ItemID:      l.ItemID,
			Point:       l.Point,
			Refunded:    l.Refunded,
			ClientEmail: client.Email,
			ClientName:  client.Name,
		}
		if s, ok := t.slots[o.SlotID]; ok && s.StaffID != "" {
			cl.StaffID = nullString(s.StaffID)
			if st, ok := t.accounts[s.StaffID]; ok {
				cl.StaffEmail = nullString(st.Email)
				cl.StaffName = nullString(st.Name)
			}
		}
		out = append(out, cl)
	}
	return out
}

func (b *BookingStore) ActiveLines(ctx context.Context, orderIDs []int64) ([]model.CancelLine, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.active_lines"); err != nil {
		return nil, err
	}
	return db.t.cancelLines(orderIDs, 0, true), nil
}

func (b *BookingStore) ActiveItemLines(ctx context.Context, orderIDs []int64, itemID int64) ([]model.CancelLine, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.active_lines"); err != nil {
		return nil, err
	}
	return db.t.cancelLines(orderIDs, itemID, false), nil
}

func (t *tables) markLinesCanceled(orderIDs []int64, itemID int64, all bool) int64 {
	want := idSet(orderIDs)
	var n int64
	for i, l := range t.lines {
		o, ok := t.orders[l.OrderID]
		if !ok || !want[o.ID] || !cancelable(o.Status) || l.Status == model.LineCancel {
			continue
		}
		if !all && l.ItemID != itemID {
			continue
		}
		t.lines[i].Status = model.LineCancel
		t.lines[i].Refunded = true
		n++
	}
	return n
}

func (b *BookingStore) CancelLines(ctx context.Context, orderIDs []int64) (int64, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.cancel_lines"); err != nil {
		return 0, err
	}
	return db.t.markLinesCanceled(orderIDs, 0, true), nil
}

func (b *BookingStore) CancelItemLines(ctx context.Context, orderIDs []int64, itemID int64) (int64, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.cancel_lines"); err != nil {
		return 0, err
	}
	return db.t.markLinesCanceled(orderIDs, itemID, false), nil
}

func (b *BookingStore) CreditPoints(ctx context.Context, refunds []model.Refund) error {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.credit"); err != nil {
		return err
	}
	for _, r := range refunds {
		a, ok := db.t.accounts[r.AccountID]
		if !ok || a.Role != model.RoleCustomer || r.Points == 0 {
			continue
		}
		a.Point = sql.NullInt64{Int64: a.Point.Int64 + r.Points, Valid: true}
		db.t.accounts[a.ID] = a
	}
	return nil
}

func (b *BookingStore) CancelOrders(ctx context.Context, orderIDs []int64) ([]int64, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.cancel_orders"); err != nil {
		return nil, err
	}
	return db.t.cancelOrders(orderIDs, func(Order) bool { return true }), nil
}

func (b *BookingStore) CancelEmptyOrders(ctx context.Context, orderIDs []int64) ([]int64, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.cancel_orders"); err != nil {
		return nil, err
	}
	live := make(map[int64]bool)
	for _, l := range db.t.lines {
		if l.Status != model.LineCancel {
			live[l.OrderID] = true
		}
	}
	return db.t.cancelOrders(orderIDs, func(o Order) bool { return !live[o.ID] }), nil
}

func (t *tables) cancelOrders(orderIDs []int64, keep func(Order) bool) []int64 {
	var ids []int64
	for _, id := range orderIDs {
		o, ok := t.orders[id]
		if !ok || !cancelable(o.Status) || !keep(o) {
			continue
		}
		o.Status = model.OrderCancel
		t.orders[id] = o
		ids = append(ids, id)
	}
	return ids
}

func (b *BookingStore) CancelSlots(ctx context.Context, slotIDs []int64) ([]model.CanceledSlot, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.cancel_slots"); err != nil {
		return nil, err
	}
	ids := append([]int64(nil), slotIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []model.CanceledSlot
	seen := make(map[int64]bool)
	for _, id := range ids {
		s, ok := db.t.slots[id]
		if !ok || seen[id] || (s.Status != model.SlotOpen && s.Status != model.SlotHidden) {
			continue
		}
		seen[id] = true
		s.Status = model.SlotCancel
		db.t.slots[id] = s
		cs := model.CanceledSlot{SlotID: id, StaffID: nullString(s.StaffID)}
		if st, ok := db.t.accounts[s.StaffID]; ok {
			cs.StaffEmail = nullString(st.Email)
			cs.StaffName = nullString(st.Name)
		}
		out = append(out, cs)
	}
	return out, nil
}

func (b *BookingStore) LockOrders(ctx context.Context, orderIDs []int64) ([]model.BookingRef, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.lock_orders"); err != nil {
		return nil, err
	}
	want := idSet(orderIDs)
	return db.t.refs(func(o Order) bool { return want[o.ID] }), nil
}

func (b *BookingStore) LockSlotOrders(ctx context.Context, slotIDs []int64) ([]model.BookingRef, error) {
	db := b.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("bookings.lock_slot_orders"); err != nil {
		return nil, err
	}
	want := idSet(slotIDs)
	return db.t.refs(func(o Order) bool { return want[o.SlotID] }), nil
}

// SlotGraph mirrors repository.SlotRepo.
type SlotGraph struct{ db *DB }

func (db *DB) Slots() *SlotGraph { return &SlotGraph{db: db} }

func (g *SlotGraph) Neighbors(ctx context.Context, slotIDs []int64) (map[int64][]int64, error) {
	db := g.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("slots.neighbors"); err != nil {
		return nil, err
	}
	want := idSet(slotIDs)
	out := make(map[int64][]int64)
	for e := range db.t.edges {
		if want[e[0]] {
			out[e[0]] = append(out[e[0]], e[1])
		}
		if want[e[1]] {
			out[e[1]] = append(out[e[1]], e[0])
		}
	}
	for k := range out {
		ns := out[k]
		sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
	}
	return out, nil
}

func (g *SlotGraph) DeleteUnavailability(ctx context.Context, marks []model.UnavailabilityMark) (int64, error) {
	db := g.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("slots.delete_marks"); err != nil {
		return 0, err
	}
	var n int64
	for _, m := range marks {
		if db.t.marks[m] {
			delete(db.t.marks, m)
			n++
		}
	}
	return n, nil
}

func (g *SlotGraph) DeleteSlotEdges(ctx context.Context, slotIDs []int64) (int64, error) {
	db := g.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("slots.delete_edges"); err != nil {
		return 0, err
	}
	want := idSet(slotIDs)
	var n int64
	for e := range db.t.edges {
		if want[e[0]] || want[e[1]] {
			delete(db.t.edges, e)
			n++
		}
	}
	return n, nil
}
