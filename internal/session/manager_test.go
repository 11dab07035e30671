package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/repository/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	m   *Manager
	db  *memory.DB
	mr  *miniredis.Miniredis
	log *logging.Recorder
	clk *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	db := memory.New()
	rec := &logging.Recorder{}
	m, err := NewManager(db.Sessions(), NewRedisCache(rdb), config.DefaultSessionConfig(), "test-secret", rec)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clk.now
	m.compensationTimeout = time.Second
	return &fixture{m: m, db: db, mr: mr, log: rec, clk: clk}
}

func (f *fixture) login(t *testing.T, user, device string) string {
	t.Helper()
	h, err := f.m.Login(context.Background(), LoginParams{
		UserID: user, DeviceID: device, UserAgent: "ua", IP: "10.0.0.1", Role: model.RoleCustomer,
	})
	if err != nil {
		t.Fatalf("Login(%s): %v", device, err)
	}
	return h
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(memory.New().Sessions(), nil, config.DefaultSessionConfig(), "", &logging.Recorder{})
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoginKeepsThreeMostRecentSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	handles := make(map[string]string)
	for i := 1; i <= 4; i++ {
		dev := fmt.Sprintf("dev-%d", i)
		handles[dev] = f.login(t, "u1", dev)
		f.clk.advance(time.Minute)
	}

	sessions := f.db.SessionsOf("u1")
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.DeviceID == "dev-1" {
			t.Fatalf("oldest session survived: %+v", s)
		}
	}
	if _, err := f.m.ValidateLight(ctx, handles["dev-1"], "dev-1"); !apperr.Is(err, apperr.KindSessionNotFound) {
		t.Errorf("evicted handle still resolves: %v", err)
	}
	if _, err := f.m.ValidateLight(ctx, handles["dev-4"], "dev-4"); err != nil {
		t.Errorf("newest handle: %v", err)
	}
	if len(f.log.Matching(logging.SessionEvicted)) != 1 {
		t.Errorf("expected one eviction log line")
	}
}

func TestLoginSameDeviceReplacesSession(t *testing.T) {
	f := newFixture(t)
	first := f.login(t, "u1", "dev-1")
	f.clk.advance(time.Second)
	second := f.login(t, "u1", "dev-1")

	if n := len(f.db.SessionsOf("u1")); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
	if _, err := f.m.ValidateLight(context.Background(), first, "dev-1"); !apperr.Is(err, apperr.KindSessionNotFound) {
		t.Errorf("replaced handle still resolves: %v", err)
	}
	if _, err := f.m.ValidateLight(context.Background(), second, "dev-1"); err != nil {
		t.Errorf("ValidateLight: %v", err)
	}
}

func TestDeviceMismatchLogsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")

	if _, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-2"}); !apperr.Is(err, apperr.KindDeviceMismatch) {
		t.Fatalf("expected device mismatch, got %v", err)
	}
	if _, err := f.m.ValidateLight(ctx, h, "dev-1"); !apperr.Is(err, apperr.KindSessionNotFound) {
		t.Fatalf("handle survived a device mismatch: %v", err)
	}
	if n := len(f.db.SessionsOf("u1")); n != 0 {
		t.Fatalf("durable session survived: %d", n)
	}
}

func TestRotationInvalidatesPriorHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")

	v, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1", IP: "10.0.0.1"})
	if err != nil || v.Rotated || v.Handle != h {
		t.Fatalf("fresh handle must not rotate: %+v %v", v, err)
	}

	f.clk.advance(16 * time.Minute)
	_, err = f.m.ValidateLight(ctx, h, "dev-1")
	if !apperr.Is(err, apperr.KindSessionExpired) || !errors.Is(err, ErrRotationDue) {
		t.Fatalf("expected rotation due, got %v", err)
	}

	v, err = f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1", IP: "10.0.0.9", UserAgent: "ua2"})
	if err != nil {
		t.Fatalf("ValidateFull: %v", err)
	}
	if !v.Rotated || v.Handle == h {
		t.Fatalf("expected a new handle, got %+v", v)
	}
	if _, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1"}); !apperr.Is(err, apperr.KindSessionNotFound) {
		t.Fatalf("prior handle still valid: %v", err)
	}
	if _, err := f.m.ValidateLight(ctx, v.Handle, "dev-1"); err != nil {
		t.Fatalf("rotated handle: %v", err)
	}

	s := f.db.SessionsOf("u1")[0]
	if s.IP != "10.0.0.9" || s.UserAgent != "ua2" || !s.LastActive.Equal(f.clk.t) {
		t.Errorf("durable row not refreshed: %+v", s)
	}
}

func TestRotationPastHardLimitExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")

	// keep the handle fresh enough to reach the durable check
	for i := 0; i < 7*24; i++ {
		f.clk.advance(time.Hour)
		v, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1"})
		if err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		h = v.Handle
	}
	f.clk.advance(time.Hour)
	if _, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1"}); !apperr.Is(err, apperr.KindSessionExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if n := len(f.db.SessionsOf("u1")); n != 0 {
		t.Fatalf("expired session kept: %d", n)
	}
	if f.mr.Exists("session:" + h) {
		t.Fatal("expired handle kept in cache")
	}
}

func TestRotationPastSoftLimitExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")
	id := f.db.SessionsOf("u1")[0].ID

	// the cache record is still live; only the durable row went idle
	f.clk.advance(20 * time.Minute)
	idle := f.clk.t.Add(-25 * time.Hour)
	if err := f.db.Sessions().Touch(ctx, id, "10.0.0.1", "ua", idle); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !f.mr.Exists("session:" + h) {
		t.Fatal("cache record missing before validation")
	}
	if _, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1"}); !apperr.Is(err, apperr.KindSessionExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if n := len(f.db.SessionsOf("u1")); n != 0 {
		t.Fatalf("idle session kept: %d", n)
	}
	if f.mr.Exists("session:" + h) {
		t.Fatal("idle handle kept in cache")
	}
}

func TestRotationWithoutDurableRowExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")
	if _, err := f.db.Sessions().DeleteByUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteByUser: %v", err)
	}
	f.clk.advance(20 * time.Minute)
	if _, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1"}); !apperr.Is(err, apperr.KindSessionExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if f.mr.Exists("session:" + h) {
		t.Fatal("handle of a vanished session kept in cache")
	}
}

func TestRotationStoreFailureIsRotationFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")
	f.db.Fail("sessions.touch", errors.New("disk full"))
	f.clk.advance(20 * time.Minute)
	if _, err := f.m.ValidateFull(ctx, h, Client{DeviceID: "dev-1"}); !apperr.Is(err, apperr.KindRotationFailed) {
		t.Fatalf("expected rotation failure, got %v", err)
	}
}

func TestLoginCacheFailureCompensates(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	_, err := f.m.Login(context.Background(), LoginParams{UserID: "u1", DeviceID: "dev-1"})
	if !apperr.Is(err, apperr.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := len(f.db.SessionsOf("u1")); n != 0 {
		t.Fatalf("durable row not compensated: %d", n)
	}
	if len(f.log.Matching(logging.CompensationRan)) != 1 {
		t.Error("compensation not logged")
	}
	if len(f.log.Matching(logging.DataIntegrityWarning)) != 0 {
		t.Error("unexpected data integrity warning")
	}
}

type purgeFails struct{ HandleCache }

func (purgeFails) PurgeSessions(ctx context.Context, userID string, sessionIDs []string) error {
	return errors.New("purge refused")
}

func TestLoginPurgeFailureKeepsNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.login(t, "u1", "dev-1")
	f.m.cache = purgeFails{f.m.cache}

	h := f.login(t, "u1", "dev-1")
	if _, err := f.m.ValidateLight(ctx, h, "dev-1"); err != nil {
		t.Fatalf("new handle: %v", err)
	}
	if n := len(f.db.SessionsOf("u1")); n != 1 {
		t.Fatalf("durable rows = %d", n)
	}
	if len(f.log.Matching(logging.CacheCleanupFailed)) != 1 || len(f.log.Matching(logging.CompensationRan)) != 0 {
		t.Error("purge failure must be logged without compensating")
	}

	// the replaced handle survives in the cache until its next rotation
	f.clk.advance(20 * time.Minute)
	if _, err := f.m.ValidateFull(ctx, old, Client{DeviceID: "dev-1"}); !apperr.Is(err, apperr.KindSessionExpired) {
		t.Fatalf("replaced handle at rotation: %v", err)
	}
}

func TestLoginFailedCompensationWarns(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()
	f.db.Fail("sessions.delete", errors.New("store down"))

	if _, err := f.m.Login(context.Background(), LoginParams{UserID: "u1", DeviceID: "dev-1"}); err == nil {
		t.Fatal("expected login to fail")
	}
	lines := f.log.Matching(logging.DataIntegrityWarning)
	if len(lines) != 1 {
		t.Fatalf("expected one data integrity warning, got %d", len(lines))
	}
	orphan := f.db.SessionsOf("u1")
	if len(orphan) != 1 || lines[0].Fields["session"] != orphan[0].ID {
		t.Fatalf("warning does not name the orphaned row: %+v %+v", lines[0].Fields, orphan)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.login(t, "u1", "dev-1")

	if err := f.m.Logout(ctx, h); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := f.m.Logout(ctx, h); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := f.m.Logout(ctx, ""); err != nil {
		t.Fatalf("empty Logout: %v", err)
	}
	if n := len(f.db.SessionsOf("u1")); n != 0 {
		t.Fatalf("durable session survived logout: %d", n)
	}
}

func TestRevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.login(t, "u1", "dev-1")
	b := f.login(t, "u1", "dev-2")
	other := f.login(t, "u2", "dev-1")

	if err := f.m.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for _, h := range []string{a, b} {
		if _, err := f.m.ValidateLight(ctx, h, "dev-1"); !apperr.Is(err, apperr.KindSessionNotFound) {
			t.Errorf("revoked handle still resolves: %v", err)
		}
	}
	if f.mr.Exists("userSessions:u1") {
		t.Error("handle index kept")
	}
	if len(f.db.SessionsOf("u1")) != 0 {
		t.Error("durable sessions kept")
	}
	if _, err := f.m.ValidateLight(ctx, other, "dev-1"); err != nil {
		t.Errorf("other user affected: %v", err)
	}
}
