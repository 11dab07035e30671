//go:build integration

package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/reservation-admin/internal/booking"
	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/outcome"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE "session", "unavailableItem", "itemInOrder", "order", "neighborSlot",
		"slot", "item", tasks, "ban", "account" RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func mustExec(t *testing.T, db *sqlx.DB, q string, args ...any) {
	t.Helper()
	if _, err := db.Exec(q, args...); err != nil {
		t.Fatalf("%s: %v", q, err)
	}
}

func TestSessionCreateKeepsMostRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustExec(t, db, `INSERT INTO "account" ("id","email","role") VALUES ('u1','u1@x','user')`)
	repo := repository.NewSessionRepo(db, database.NewTxManager(db))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var evicted []string
	for i, dev := range []string{"d1", "d2", "d3", "d4"} {
		s := model.Session{ID: "s" + dev, UserID: "u1", DeviceID: dev, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		removed, err := repo.Create(ctx, s, 3)
		if err != nil {
			t.Fatalf("Create %s: %v", dev, err)
		}
		evicted = append(evicted, removed...)
	}
	if len(evicted) != 1 || evicted[0] != "sd1" {
		t.Fatalf("evicted = %v", evicted)
	}
	left, err := repo.ListByUser(ctx, "u1")
	if err != nil || len(left) != 3 {
		t.Fatalf("ListByUser = %d, %v", len(left), err)
	}

	removed, err := repo.Create(ctx, model.Session{ID: "sd2b", UserID: "u1", DeviceID: "d2", CreatedAt: base.Add(time.Hour)}, 3)
	if err != nil || len(removed) != 1 || removed[0] != "sd2" {
		t.Fatalf("same device replace = %v, %v", removed, err)
	}
	if _, err := repo.Get(ctx, "sd2"); err != repository.ErrNotFound {
		t.Errorf("replaced row still readable: %v", err)
	}
}

func TestDeleteUnavailabilityIsExact(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustExec(t, db, `INSERT INTO "slot" ("id") VALUES (1),(2)`)
	mustExec(t, db, `INSERT INTO "item" ("id","name") VALUES (7,'a'),(8,'b')`)
	mustExec(t, db, `INSERT INTO "unavailableItem" VALUES (1,7,1),(2,7,1),(1,8,1),(2,7,2)`)

	n, err := repository.NewSlotRepo(db).DeleteUnavailability(ctx, []model.UnavailabilityMark{
		{SlotID: 1, ItemID: 7, SourceSlotID: 1},
		{SlotID: 2, ItemID: 7, SourceSlotID: 1},
		{SlotID: 2, ItemID: 7, SourceSlotID: 1},
	})
	if err != nil || n != 2 {
		t.Fatalf("DeleteUnavailability = %d, %v", n, err)
	}
	var left int
	if err := db.Get(&left, `SELECT COUNT(*) FROM "unavailableItem"`); err != nil || left != 2 {
		t.Fatalf("left = %d, %v", left, err)
	}
}

func TestTaskClaimAndRetry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := repository.NewTaskRepo(db)

	err := repo.Enqueue(ctx, []model.Task{
		model.NewEmailTask(model.EmailRoleChange, "a@x", map[string]any{"new_role": "courier"}),
		model.NewEmailTask(model.EmailBanAccount, "b@x", nil),
		model.NewEmailTask(model.EmailDeleteAccount, "c@x", nil),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := repo.Claim(ctx, 2)
	if err != nil || len(first) != 2 {
		t.Fatalf("Claim(2) = %d, %v", len(first), err)
	}
	if first[0].Variables["new_role"] != "courier" || first[0].Status != model.TaskProcessing {
		t.Errorf("claimed task = %+v", first[0])
	}
	rest, _ := repo.Claim(ctx, 10)
	if len(rest) != 1 {
		t.Fatalf("second claim = %d", len(rest))
	}

	if err := repo.MarkRetry(ctx, first[0].ID, "broker down", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	if err := repo.MarkCompleted(ctx, first[1].ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if again, _ := repo.Claim(ctx, 10); len(again) != 0 {
		t.Errorf("claimed %d tasks that are not due", len(again))
	}
}

func TestForceCancelBookingsOnPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustExec(t, db, `INSERT INTO "account" ("id","email","role","point") VALUES
		('c1','c1@x','user',10), ('s1','s1@x','courier',NULL)`)
	mustExec(t, db, `INSERT INTO "slot" ("id","staffId") VALUES (1,'s1'),(2,NULL)`)
	mustExec(t, db, `INSERT INTO "neighborSlot" VALUES (1,2)`)
	mustExec(t, db, `INSERT INTO "item" ("id","name") VALUES (7,'tent')`)
	mustExec(t, db, `INSERT INTO "order" ("id","clientId","slotId","status") VALUES (100,'c1',1,'pending')`)
	mustExec(t, db, `INSERT INTO "itemInOrder" ("orderId","itemId","point") VALUES (100,7,4),(100,7,3)`)
	mustExec(t, db, `INSERT INTO "unavailableItem" VALUES (1,7,1),(2,7,1),(2,7,2)`)

	tx := database.NewTxManager(db)
	ctrl := booking.NewController(tx, repository.NewBookingRepo(db), repository.NewSlotRepo(db),
		repository.NewTaskRepo(db), &logging.Recorder{})

	res, err := ctrl.ForceCancelBookings(ctx, []int64{100}, "test")
	if err != nil {
		t.Fatalf("ForceCancelBookings: %v", err)
	}
	if s, ok := res.(outcome.Success); !ok || len(s.CanceledOrders) != 1 {
		t.Fatalf("result = %#v", res)
	}
	var point int64
	if err := db.Get(&point, `SELECT "point" FROM "account" WHERE "id"='c1'`); err != nil || point != 17 {
		t.Fatalf("point = %d, %v", point, err)
	}
	var marks int
	if err := db.Get(&marks, `SELECT COUNT(*) FROM "unavailableItem"`); err != nil || marks != 1 {
		t.Fatalf("marks left = %d, %v", marks, err)
	}

	res, err = ctrl.ForceCancelBookings(ctx, []int64{100}, "test")
	if err != nil {
		t.Fatalf("second ForceCancelBookings: %v", err)
	}
	if s, ok := res.(outcome.Success); !ok || !s.Noop {
		t.Fatalf("second result = %#v", res)
	}
	if err := db.Get(&point, `SELECT "point" FROM "account" WHERE "id"='c1'`); err != nil || point != 17 {
		t.Errorf("refund applied twice: %d", point)
	}
}

func TestForceCancelSlotsLeavesOrderInHandOnPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	mustExec(t, db, `INSERT INTO "account" ("id","email","role","point") VALUES ('c1','c1@x','user',0)`)
	mustExec(t, db, `INSERT INTO "slot" ("id") VALUES (1)`)
	mustExec(t, db, `INSERT INTO "item" ("id","name") VALUES (7,'tent')`)
	mustExec(t, db, `INSERT INTO "order" ("id","clientId","slotId","status") VALUES (100,'c1',1,'inHand')`)
	mustExec(t, db, `INSERT INTO "itemInOrder" ("orderId","itemId","point") VALUES (100,7,4)`)

	tx := database.NewTxManager(db)
	ctrl := booking.NewController(tx, repository.NewBookingRepo(db), repository.NewSlotRepo(db),
		repository.NewTaskRepo(db), &logging.Recorder{})

	res, err := ctrl.ForceCancelSlots(ctx, []int64{1}, "test")
	if err != nil {
		t.Fatalf("ForceCancelSlots: %v", err)
	}
	if !outcome.IsRace(res) {
		t.Fatalf("result = %#v", res)
	}
	var status string
	if err := db.Get(&status, `SELECT "status" FROM "order" WHERE "id"=100`); err != nil || status != "inHand" {
		t.Fatalf("order status = %q, %v", status, err)
	}
	if err := db.Get(&status, `SELECT "status" FROM "slot" WHERE "id"=1`); err != nil || status != "open" {
		t.Errorf("slot status = %q, %v", status, err)
	}
}
