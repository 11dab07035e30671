package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

func TestRunInTxRestoresOnError(t *testing.T) {
	db := New()
	db.AddAccount(model.Account{ID: "c1", Role: model.RoleCustomer})
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.RunInTx(ctx, func(ctx context.Context) error {
		if err := db.Accounts().UpdateRole(ctx, "c1", model.RoleStaff); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return db.RunInTx(ctx, func(ctx context.Context) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v", err)
	}
	if a, _ := db.Account("c1"); a.Role != model.RoleCustomer {
		t.Errorf("role after rollback = %s", a.Role)
	}

	if err := db.RunInTx(ctx, func(ctx context.Context) error {
		return db.Accounts().UpdateRole(ctx, "c1", model.RoleStaff)
	}); err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if a, _ := db.Account("c1"); a.Role != model.RoleStaff {
		t.Errorf("role after commit = %s", a.Role)
	}
}

func TestFailInjection(t *testing.T) {
	db := New()
	ctx := context.Background()
	db.Fail("sessions.get", context.DeadlineExceeded)
	if _, err := db.Sessions().Get(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get = %v", err)
	}
	db.Fail("sessions.get", nil)
	if _, err := db.Sessions().Get(ctx, "x"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Get after clear = %v", err)
	}
}

func TestSessionEvictionTieBreak(t *testing.T) {
	db := New()
	s := db.Sessions()
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"b", "a", "c"} {
		if _, err := s.Create(ctx, model.Session{ID: id, UserID: "u", DeviceID: "dev-" + id, CreatedAt: at, LastActive: at}, 3); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	removed, err := s.Create(ctx, model.Session{ID: "d", UserID: "u", DeviceID: "dev-d", CreatedAt: at, LastActive: at.Add(time.Second)}, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("removed = %v, want [a]", removed)
	}
	got := db.SessionsOf("u")
	if len(got) != 3 || got[0].ID != "d" {
		t.Errorf("sessions = %+v", got)
	}
}

func TestClaimHonorsSchedule(t *testing.T) {
	db := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })
	q := db.Tasks()
	ctx := context.Background()

	if err := q.Enqueue(ctx, []model.Task{model.NewEmailTask(model.EmailBanAccount, "a@x", nil)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, _ := q.Claim(ctx, 5)
	if len(claimed) != 1 {
		t.Fatalf("claimed %d", len(claimed))
	}
	if again, _ := q.Claim(ctx, 5); len(again) != 0 {
		t.Fatal("processing task claimed twice")
	}
	if err := q.MarkRetry(ctx, claimed[0].ID, "down", now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	if early, _ := q.Claim(ctx, 5); len(early) != 0 {
		t.Fatal("task claimed before it was due")
	}
	now = now.Add(time.Minute)
	if due, _ := q.Claim(ctx, 5); len(due) != 1 || due[0].Attempts != 1 {
		t.Fatalf("due claim = %+v", due)
	}
}
