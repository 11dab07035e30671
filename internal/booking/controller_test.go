package booking_test

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/booking"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
	"github.com/iliyamo/reservation-admin/internal/repository/memory"
)

var (
	_ booking.Store     = (*memory.BookingStore)(nil)
	_ booking.SlotGraph = (*memory.SlotGraph)(nil)
	_ booking.TaskQueue = (*memory.TaskQueue)(nil)
)

// seed builds:
//
//	slots 1 -- 2 -- 3 (edges), slot 4 isolated; 1,2 staffed by s1, 3,4 by s2
//	order 100: c1 @ slot 1, pending,         item 7 (5 pts), item 8 (3 pts)
//	order 101: c2 @ slot 2, inHand,          item 7 (4 pts)
//	order 102: c1 @ slot 3, waitForDelivery, item 9 (2 pts)
func seed(t *testing.T) (*booking.Controller, *memory.DB, *logging.Recorder) {
	t.Helper()
	db := memory.New()
	db.AddAccount(model.Account{ID: "c1", Email: "c1@x", Name: "C One", Role: model.RoleCustomer, Point: sql.NullInt64{Int64: 10, Valid: true}})
	db.AddAccount(model.Account{ID: "c2", Email: "c2@x", Name: "C Two", Role: model.RoleCustomer})
	db.AddAccount(model.Account{ID: "s1", Email: "s1@x", Name: "S One", Role: model.RoleStaff})
	db.AddAccount(model.Account{ID: "s2", Email: "s2@x", Name: "S Two", Role: model.RoleStaff})

	db.AddSlot(memory.Slot{ID: 1, StaffID: "s1", Status: model.SlotOpen})
	db.AddSlot(memory.Slot{ID: 2, StaffID: "s1", Status: model.SlotOpen})
	db.AddSlot(memory.Slot{ID: 3, StaffID: "s2", Status: model.SlotHidden})
	db.AddSlot(memory.Slot{ID: 4, StaffID: "s2", Status: model.SlotOpen})
	db.AddEdge(1, 2)
	db.AddEdge(3, 2)

	db.AddOrder(memory.Order{ID: 100, ClientID: "c1", SlotID: 1, Status: model.OrderPending})
	db.AddLine(100, 7, 5)
	db.AddLine(100, 8, 3)
	db.AddOrder(memory.Order{ID: 101, ClientID: "c2", SlotID: 2, Status: model.OrderInHand})
	db.AddLine(101, 7, 4)
	db.AddOrder(memory.Order{ID: 102, ClientID: "c1", SlotID: 3, Status: model.OrderWaitForDelivery})
	db.AddLine(102, 9, 2)

	for _, m := range []model.UnavailabilityMark{
		{SlotID: 1, ItemID: 7, SourceSlotID: 1},
		{SlotID: 2, ItemID: 7, SourceSlotID: 1},
		{SlotID: 1, ItemID: 8, SourceSlotID: 1},
		{SlotID: 2, ItemID: 8, SourceSlotID: 1},
		{SlotID: 2, ItemID: 7, SourceSlotID: 2},
		{SlotID: 1, ItemID: 7, SourceSlotID: 2},
		{SlotID: 3, ItemID: 7, SourceSlotID: 2},
		{SlotID: 3, ItemID: 9, SourceSlotID: 3},
		{SlotID: 2, ItemID: 9, SourceSlotID: 3},
	} {
		db.AddMark(m)
	}

	rec := &logging.Recorder{}
	c := booking.NewController(db, db.Bookings(), db.Slots(), db.Tasks(), rec)
	return c, db, rec
}

func points(t *testing.T, db *memory.DB, id string) int64 {
	t.Helper()
	a, ok := db.Account(id)
	if !ok {
		t.Fatalf("account %s missing", id)
	}
	return a.Point.Int64
}

func emailCases(db *memory.DB) []model.EmailCase {
	var out []model.EmailCase
	for _, task := range db.AllTasks() {
		out = append(out, task.EmailCase)
	}
	return out
}

func TestDiscoverClassifiesByStatus(t *testing.T) {
	c, _, _ := seed(t)
	ctx := context.Background()

	d, err := c.DiscoverAccountBookings(ctx, "c1")
	if err != nil {
		t.Fatalf("DiscoverAccountBookings: %v", err)
	}
	if len(d.InHand) != 0 || !reflect.DeepEqual(outcome.OrderIDs(d.Pending), []int64{100, 102}) {
		t.Fatalf("unexpected discovery for c1: %+v", d)
	}

	d, err = c.DiscoverAccountBookings(ctx, "c2")
	if err != nil {
		t.Fatalf("DiscoverAccountBookings: %v", err)
	}
	if !reflect.DeepEqual(outcome.OrderIDs(d.InHand), []int64{101}) || len(d.Pending) != 0 {
		t.Fatalf("unexpected discovery for c2: %+v", d)
	}

	d, err = c.DiscoverStaffBookings(ctx, "s1")
	if err != nil {
		t.Fatalf("DiscoverStaffBookings: %v", err)
	}
	if !reflect.DeepEqual(outcome.OrderIDs(d.Pending), []int64{100}) || !reflect.DeepEqual(outcome.OrderIDs(d.InHand), []int64{101}) {
		t.Fatalf("unexpected discovery for s1: %+v", d)
	}

	d, err = c.DiscoverItemBookings(ctx, 7)
	if err != nil {
		t.Fatalf("DiscoverItemBookings: %v", err)
	}
	if !reflect.DeepEqual(outcome.OrderIDs(d.Pending), []int64{100}) || !reflect.DeepEqual(outcome.OrderIDs(d.InHand), []int64{101}) {
		t.Fatalf("unexpected discovery for item 7: %+v", d)
	}
}

func TestDiscoverTimeoutIsTransient(t *testing.T) {
	c, db, _ := seed(t)
	db.Fail("bookings.client", context.DeadlineExceeded)
	if _, err := c.DiscoverAccountBookings(context.Background(), "c1"); !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDecideBlockingTakesPrecedence(t *testing.T) {
	inHand := []model.BookingRef{{OrderID: 1, Status: model.OrderInHand}}
	pending := []model.BookingRef{{OrderID: 2, Status: model.OrderPending}}

	for _, confirmed := range []bool{false, true} {
		r := booking.Decide(booking.Discovery{InHand: inHand, Pending: pending}, confirmed)
		if _, ok := r.(outcome.Blocked); !ok {
			t.Fatalf("confirmed=%v: expected Blocked, got %#v", confirmed, r)
		}
	}
	if r, ok := booking.Decide(booking.Discovery{Pending: pending}, false).(outcome.ConfirmRequired); !ok || len(r.Pending) != 1 {
		t.Fatalf("expected ConfirmRequired, got %#v", r)
	}
	if r := booking.Decide(booking.Discovery{Pending: pending}, true); r != nil {
		t.Fatalf("confirmed pending must proceed, got %#v", r)
	}
	if r := booking.Decide(booking.Discovery{}, false); r != nil {
		t.Fatalf("empty discovery must proceed, got %#v", r)
	}
}

func TestForceCancelBookings(t *testing.T) {
	c, db, _ := seed(t)
	ctx := context.Background()

	r, err := c.ForceCancelBookings(ctx, []int64{100}, "test")
	if err != nil {
		t.Fatalf("ForceCancelBookings: %v", err)
	}
	s, ok := r.(outcome.Success)
	if !ok || s.Noop || !reflect.DeepEqual(s.CanceledOrders, []int64{100}) {
		t.Fatalf("unexpected result %#v", r)
	}

	if o, _ := db.Order(100); o.Status != model.OrderCancel {
		t.Errorf("order status = %s", o.Status)
	}
	for _, l := range db.Lines(100) {
		if l.Status != model.LineCancel || !l.Refunded {
			t.Errorf("line not canceled: %+v", l)
		}
	}
	if got := points(t, db, "c1"); got != 18 {
		t.Errorf("c1 points = %d, want 18", got)
	}

	want := []model.UnavailabilityMark{
		{SlotID: 1, ItemID: 7, SourceSlotID: 2},
		{SlotID: 2, ItemID: 7, SourceSlotID: 2},
		{SlotID: 2, ItemID: 9, SourceSlotID: 3},
		{SlotID: 3, ItemID: 7, SourceSlotID: 2},
		{SlotID: 3, ItemID: 9, SourceSlotID: 3},
	}
	if got := db.Marks(); !reflect.DeepEqual(got, want) {
		t.Errorf("marks = %+v\nwant %+v", got, want)
	}

	cases := emailCases(db)
	if !reflect.DeepEqual(cases, []model.EmailCase{model.EmailOrderCancelUser, model.EmailOrderCancelStaff}) {
		t.Errorf("tasks = %v", cases)
	}
	tasks := db.AllTasks()
	if tasks[0].Recipient != "c1@x" || tasks[1].Recipient != "s1@x" || tasks[0].Variables["reason"] != "test" {
		t.Errorf("unexpected task payloads %+v", tasks)
	}
}

func TestForceCancelBookingsIsIdempotent(t *testing.T) {
	c, db, rec := seed(t)
	ctx := context.Background()

	if _, err := c.ForceCancelBookings(ctx, []int64{100, 102}, "first"); err != nil {
		t.Fatalf("first: %v", err)
	}
	pts, tasks, marks := points(t, db, "c1"), len(db.AllTasks()), db.Marks()

	r, err := c.ForceCancelBookings(ctx, []int64{100, 102}, "second")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if s, ok := r.(outcome.Success); !ok || !s.Noop {
		t.Fatalf("expected noop, got %#v", r)
	}
	if points(t, db, "c1") != pts || len(db.AllTasks()) != tasks || !reflect.DeepEqual(db.Marks(), marks) {
		t.Fatal("second cancellation changed state")
	}
	if pts != 10+5+3+2 {
		t.Errorf("refund not conserved: %d", pts)
	}
	if len(rec.Matching(logging.NothingToCancel)) != 1 {
		t.Error("noop not logged")
	}
}

func TestForceCancelSkipsCompleteAndCredited(t *testing.T) {
	c, db, _ := seed(t)
	db.AddOrder(memory.Order{ID: 200, ClientID: "c1", SlotID: 1, Status: model.OrderComplete})
	db.AddLine(200, 7, 50)
	db.AddOrder(memory.Order{ID: 201, ClientID: "s2", SlotID: 1, Status: model.OrderPending})
	db.AddLine(201, 7, 6)

	if _, err := c.ForceCancelBookings(context.Background(), []int64{200, 201}, "x"); err != nil {
		t.Fatalf("ForceCancelBookings: %v", err)
	}
	if o, _ := db.Order(200); o.Status != model.OrderComplete {
		t.Errorf("complete order changed to %s", o.Status)
	}
	if o, _ := db.Order(201); o.Status != model.OrderCancel {
		t.Errorf("order 201 status %s", o.Status)
	}
	if a, _ := db.Account("s2"); a.Point.Valid {
		t.Errorf("staff account credited: %+v", a.Point)
	}
	if points(t, db, "c1") != 10 {
		t.Errorf("complete order refunded")
	}
}

func TestForceCancelRollsBackOnFailure(t *testing.T) {
	c, db, _ := seed(t)
	db.Fail("tasks.enqueue", errors.New("queue full"))

	if _, err := c.ForceCancelBookings(context.Background(), []int64{100}, "x"); err == nil {
		t.Fatal("expected error")
	}
	if o, _ := db.Order(100); o.Status != model.OrderPending {
		t.Errorf("order changed to %s", o.Status)
	}
	if points(t, db, "c1") != 10 {
		t.Errorf("refund kept after rollback")
	}
	if len(db.Marks()) != 9 {
		t.Errorf("marks deleted after rollback: %d", len(db.Marks()))
	}
	for _, l := range db.Lines(100) {
		if l.Status == model.LineCancel {
			t.Errorf("line canceled after rollback: %+v", l)
		}
	}
}

func TestForceCancelSlots(t *testing.T) {
	c, db, _ := seed(t)

	r, err := c.ForceCancelSlots(context.Background(), []int64{1, 4}, "slot closed")
	if err != nil {
		t.Fatalf("ForceCancelSlots: %v", err)
	}
	s, ok := r.(outcome.Success)
	if !ok || !reflect.DeepEqual(s.CanceledSlots, []int64{1, 4}) || !reflect.DeepEqual(s.CanceledOrders, []int64{100}) {
		t.Fatalf("unexpected result %#v", r)
	}
	for _, id := range []int64{1, 4} {
		if sl, _ := db.Slot(id); sl.Status != model.SlotCancel {
			t.Errorf("slot %d status %s", id, sl.Status)
		}
	}
	if db.HasEdge(1, 2) {
		t.Error("edge 1-2 kept")
	}
	if !db.HasEdge(2, 3) {
		t.Error("edge 2-3 removed")
	}

	want := []model.EmailCase{model.EmailOrderCancelUser, model.EmailSlotCancelStaff, model.EmailSlotCancelStaff}
	if got := emailCases(db); !reflect.DeepEqual(got, want) {
		t.Fatalf("tasks = %v, want %v", got, want)
	}
	tasks := db.AllTasks()
	if tasks[2].Recipient != "s2@x" || tasks[2].Variables["bookings"] != 0 {
		t.Errorf("empty slot notice = %+v", tasks[2])
	}
	if got := points(t, db, "c1"); got != 18 {
		t.Errorf("c1 points = %d", got)
	}

	again, err := c.ForceCancelSlots(context.Background(), []int64{1, 4}, "again")
	if err != nil {
		t.Fatalf("second ForceCancelSlots: %v", err)
	}
	if s, ok := again.(outcome.Success); !ok || !s.Noop {
		t.Fatalf("expected noop, got %#v", again)
	}
}

func TestForceCancelItemCancelsOrderWhenEmptied(t *testing.T) {
	c, db, _ := seed(t)
	ctx := context.Background()

	r, err := c.ForceCancelItem(ctx, []int64{100}, 7, "maintenance")
	if err != nil {
		t.Fatalf("ForceCancelItem: %v", err)
	}
	if s, ok := r.(outcome.Success); !ok || s.Noop || len(s.CanceledOrders) != 0 {
		t.Fatalf("order must survive with item 8 live: %#v", r)
	}
	if o, _ := db.Order(100); o.Status != model.OrderPending {
		t.Fatalf("order status %s", o.Status)
	}
	if points(t, db, "c1") != 15 {
		t.Errorf("c1 points = %d", points(t, db, "c1"))
	}

	r, err = c.ForceCancelItem(ctx, []int64{100}, 8, "maintenance")
	if err != nil {
		t.Fatalf("ForceCancelItem: %v", err)
	}
	if s, ok := r.(outcome.Success); !ok || !reflect.DeepEqual(s.CanceledOrders, []int64{100}) {
		t.Fatalf("expected order 100 canceled, got %#v", r)
	}
	if points(t, db, "c1") != 18 {
		t.Errorf("c1 points = %d", points(t, db, "c1"))
	}
}

func TestForceCancelSlotsRefusesOrderInHand(t *testing.T) {
	c, db, rec := seed(t)

	r, err := c.ForceCancelSlots(context.Background(), []int64{2}, "admin")
	if err != nil {
		t.Fatalf("ForceCancelSlots: %v", err)
	}
	if !outcome.IsRace(r) {
		t.Fatalf("expected race, got %#v", r)
	}
	if o, _ := db.Order(101); o.Status != model.OrderInHand {
		t.Errorf("order 101 status %s", o.Status)
	}
	if points(t, db, "c2") != 0 {
		t.Errorf("c2 refunded %d", points(t, db, "c2"))
	}
	if s, _ := db.Slot(2); s.Status != model.SlotOpen {
		t.Errorf("slot 2 status %s", s.Status)
	}
	if !db.HasEdge(1, 2) || len(db.AllTasks()) != 0 || len(db.Marks()) != 9 {
		t.Error("refused cancellation left changes behind")
	}
	if len(rec.Matching(logging.CancelInHand)) != 1 {
		t.Error("refusal not logged")
	}
}

func TestForceCancelBookingsRefusesOrderInHand(t *testing.T) {
	c, db, _ := seed(t)

	r, err := c.ForceCancelBookings(context.Background(), []int64{100, 101}, "admin")
	if err != nil {
		t.Fatalf("ForceCancelBookings: %v", err)
	}
	if !outcome.IsRace(r) {
		t.Fatalf("expected race, got %#v", r)
	}
	if o, _ := db.Order(100); o.Status != model.OrderPending {
		t.Errorf("order 100 status %s", o.Status)
	}
	if points(t, db, "c1") != 10 {
		t.Errorf("c1 points = %d", points(t, db, "c1"))
	}
}

func TestCancelSlotsBlocksThenConfirms(t *testing.T) {
	c, db, _ := seed(t)
	ctx := context.Background()

	r, err := c.CancelSlots(ctx, []int64{1, 2}, "closing", true)
	if err != nil {
		t.Fatalf("CancelSlots: %v", err)
	}
	b, ok := r.(outcome.Blocked)
	if !ok || len(b.InHand) != 1 || b.InHand[0].OrderID != 101 {
		t.Fatalf("expected Blocked by 101, got %#v", r)
	}

	r, _ = c.CancelSlots(ctx, []int64{1}, "closing", false)
	if _, ok := r.(outcome.ConfirmRequired); !ok {
		t.Fatalf("expected ConfirmRequired, got %#v", r)
	}
	if s, _ := db.Slot(1); s.Status != model.SlotOpen {
		t.Fatalf("unconfirmed request canceled slot 1")
	}

	r, err = c.CancelSlots(ctx, []int64{1}, "closing", true)
	if err != nil {
		t.Fatalf("CancelSlots: %v", err)
	}
	s, ok := r.(outcome.Success)
	if !ok || !reflect.DeepEqual(s.CanceledSlots, []int64{1}) || !reflect.DeepEqual(s.CanceledOrders, []int64{100}) {
		t.Fatalf("unexpected result %#v", r)
	}

	r, _ = c.CancelSlots(ctx, []int64{4}, "closing", false)
	if s, ok := r.(outcome.Success); !ok || !reflect.DeepEqual(s.CanceledSlots, []int64{4}) {
		t.Fatalf("empty slot needs no confirmation: %#v", r)
	}
}

func TestCancelOrdersBlocksThenConfirms(t *testing.T) {
	c, db, _ := seed(t)
	ctx := context.Background()

	r, _ := c.CancelOrders(ctx, []int64{101}, "x", true)
	if _, ok := r.(outcome.Blocked); !ok {
		t.Fatalf("expected Blocked, got %#v", r)
	}
	r, _ = c.CancelOrders(ctx, []int64{100, 102}, "x", false)
	if cr, ok := r.(outcome.ConfirmRequired); !ok || len(cr.Pending) != 2 {
		t.Fatalf("expected ConfirmRequired, got %#v", r)
	}
	r, err := c.CancelOrders(ctx, []int64{100, 102}, "x", true)
	if err != nil {
		t.Fatalf("CancelOrders: %v", err)
	}
	if s, ok := r.(outcome.Success); !ok || !reflect.DeepEqual(s.CanceledOrders, []int64{100, 102}) {
		t.Fatalf("unexpected result %#v", r)
	}
	if o, _ := db.Order(101); o.Status != model.OrderInHand {
		t.Errorf("order 101 status %s", o.Status)
	}
}
