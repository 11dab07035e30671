// Package session owns user sessions: a durable row per (account, device)
// in Postgres and a short-lived, rotating handle in Redis that points at it.
//
// Light validation only reads the cache.  Full validation additionally
// rotates the handle once it is older than the rotate interval, after
// re-checking the durable row against the hard and soft limits.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/repository"
	"github.com/iliyamo/reservation-admin/internal/utils"
)

// ErrRotationDue is wrapped by ValidateLight when the handle must go
// through ValidateFull before it can be trusted again.
var ErrRotationDue = errors.New("session handle rotation due")

// Store is the durable side of a session.  Get and Touch report
// repository.ErrNotFound for a missing row.
type Store interface {
	Create(ctx context.Context, s model.Session, maxPerUser int) ([]string, error)
	Get(ctx context.Context, id string) (model.Session, error)
	Touch(ctx context.Context, id, ip, userAgent string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) ([]string, error)
}

type LoginParams struct {
	UserID    string
	DeviceID  string
	UserAgent string
	IP        string
	Role      model.Role
}

// Client is what the caller presents on a request.
type Client struct {
	DeviceID  string
	IP        string
	UserAgent string
}

// Identity is the authenticated principal behind a handle.
type Identity struct {
	UserID    string
	Role      model.Role
	DeviceID  string
	SessionID string
}

// Validation is the result of ValidateFull.  When Rotated is set, Handle is
// the new handle and the presented one is already invalid.
type Validation struct {
	Identity Identity
	Handle   string
	Rotated  bool
}

type Manager struct {
	store  Store
	cache  HandleCache
	cfg    config.SessionConfig
	secret string
	log    logging.Logger

	now                 func() time.Time
	compensationTimeout time.Duration
}

func NewManager(store Store, cache HandleCache, cfg config.SessionConfig, secret string, log logging.Logger) (*Manager, error) {
	if secret == "" {
		return nil, apperr.New(apperr.KindConfiguration, "session.new", "session secret is empty")
	}
	return &Manager{
		store:               store,
		cache:               cache,
		cfg:                 cfg,
		secret:              secret,
		log:                 log,
		now:                 time.Now,
		compensationTimeout: 5 * time.Second,
	}, nil
}

func (m *Manager) newHandle(sessionID, deviceID string, at time.Time) string {
	return utils.SHA256Hex(fmt.Sprintf("%s.%s.%d.%s", sessionID, deviceID, at.UnixMilli(), m.secret))
}

// Login creates the durable session (replacing the one of the same device
// and evicting beyond the per-user cap), then publishes a fresh handle.
// Failing to publish the handle undoes the durable insert.  The replaced
// and evicted rows are gone for good either way, so purging their cached
// handles is best effort: a leftover handle fails at its next rotation.
func (m *Manager) Login(ctx context.Context, p LoginParams) (string, error) {
	const op = "session.login"
	now := m.now()
	id, err := utils.RandomHex(32)
	if err != nil {
		return "", fmt.Errorf("%s: session id: %w", op, err)
	}
	handle := m.newHandle(id, p.DeviceID, now)
	sess := model.Session{
		ID:         id,
		UserID:     p.UserID,
		DeviceID:   p.DeviceID,
		UserAgent:  p.UserAgent,
		IP:         p.IP,
		CreatedAt:  now,
		LastActive: now,
	}
	rec := model.CacheRecord{
		DBSessionID: id,
		UserID:      p.UserID,
		DeviceID:    p.DeviceID,
		Role:        p.Role,
		LastActive:  now.UnixMilli(),
	}

	var removed []string
	s := newSaga(m.log, m.compensationTimeout)
	s.step("durable insert",
		func(ctx context.Context) error {
			ids, err := m.store.Create(ctx, sess, m.cfg.MaxSessions)
			if err != nil {
				return apperr.FromStore(op, err)
			}
			removed = ids
			return nil
		},
		func(ctx context.Context) error { return m.store.Delete(ctx, id) })
	s.step("purge replaced handles",
		func(ctx context.Context) error {
			if err := m.cache.PurgeSessions(ctx, p.UserID, removed); err != nil {
				m.log.Warn(logging.CacheCleanupFailed, err, logging.Fields{"user": p.UserID, "removed": fmt.Sprint(len(removed))})
			}
			return nil
		}, nil)
	s.step("publish handle",
		func(ctx context.Context) error {
			return apperr.FromStore(op, m.cache.Put(ctx, handle, rec, m.cfg.SoftLimit))
		}, nil)

	if err := s.run(ctx, logging.Fields{"user": p.UserID, "session": id}); err != nil {
		return "", err
	}

	if len(removed) > 0 {
		m.log.Info(logging.SessionEvicted, logging.Fields{"user": p.UserID, "removed": fmt.Sprint(len(removed))})
	}
	m.log.Info(logging.SessionCreated, logging.Fields{"user": p.UserID, "handle": logging.Redact(handle)})
	return handle, nil
}

// lookup resolves handle and enforces the device binding.  A record
// presented from another device is logged out before the error returns.
func (m *Manager) lookup(ctx context.Context, op, handle, deviceID string) (model.CacheRecord, error) {
	if handle == "" {
		return model.CacheRecord{}, apperr.New(apperr.KindSessionNotFound, op, "no session handle")
	}
	rec, ok, err := m.cache.Get(ctx, handle)
	if err != nil {
		return model.CacheRecord{}, apperr.FromStore(op, err)
	}
	if !ok {
		return model.CacheRecord{}, apperr.New(apperr.KindSessionNotFound, op, "")
	}
	if rec.DeviceID != deviceID {
		if err := m.destroy(ctx, handle, rec); err != nil {
			m.log.Warn(logging.CacheCleanupFailed, err, logging.Fields{"handle": logging.Redact(handle)})
		}
		m.log.Info(logging.SessionDeviceMismatch, logging.Fields{"user": rec.UserID, "handle": logging.Redact(handle)})
		return model.CacheRecord{}, apperr.New(apperr.KindDeviceMismatch, op, "")
	}
	return rec, nil
}

func identityOf(rec model.CacheRecord) Identity {
	return Identity{UserID: rec.UserID, Role: rec.Role, DeviceID: rec.DeviceID, SessionID: rec.DBSessionID}
}

// ValidateLight checks a handle against the cache only.
func (m *Manager) ValidateLight(ctx context.Context, handle, deviceID string) (Identity, error) {
	const op = "session.validate_light"
	rec, err := m.lookup(ctx, op, handle, deviceID)
	if err != nil {
		return Identity{}, err
	}
	if m.now().Sub(rec.LastActiveTime()) > m.cfg.RotateInterval {
		return Identity{}, apperr.Wrap(apperr.KindSessionExpired, op, ErrRotationDue)
	}
	return identityOf(rec), nil
}

// ValidateFull checks a handle and rotates it when due.
func (m *Manager) ValidateFull(ctx context.Context, handle string, c Client) (Validation, error) {
	const op = "session.validate_full"
	rec, err := m.lookup(ctx, op, handle, c.DeviceID)
	if err != nil {
		return Validation{}, err
	}
	now := m.now()
	if now.Sub(rec.LastActiveTime()) <= m.cfg.RotateInterval {
		return Validation{Identity: identityOf(rec), Handle: handle}, nil
	}

	sess, err := m.store.Get(ctx, rec.DBSessionID)
	if errors.Is(err, repository.ErrNotFound) {
		m.expire(ctx, handle, rec, "durable row gone")
		return Validation{}, apperr.New(apperr.KindSessionExpired, op, "session no longer exists")
	}
	if err != nil {
		return Validation{}, apperr.FromStore(op, err)
	}
	if now.Sub(sess.CreatedAt) > m.cfg.HardLimit || now.Sub(sess.LastActive) > m.cfg.SoftLimit {
		if err := m.store.Delete(ctx, sess.ID); err != nil {
			return Validation{}, apperr.FromStore(op, err)
		}
		m.expire(ctx, handle, rec, "lifetime exceeded")
		return Validation{}, apperr.New(apperr.KindSessionExpired, op, "session lifetime exceeded")
	}

	if err := m.store.Touch(ctx, sess.ID, c.IP, c.UserAgent, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.expire(ctx, handle, rec, "durable row gone")
			return Validation{}, apperr.New(apperr.KindSessionExpired, op, "session no longer exists")
		}
		return Validation{}, apperr.Wrap(apperr.KindRotationFailed, op, err)
	}
	next := m.newHandle(sess.ID, rec.DeviceID, now)
	fresh := rec
	fresh.LastActive = now.UnixMilli()
	if err := m.cache.Swap(ctx, handle, next, fresh, m.cfg.SoftLimit); err != nil {
		return Validation{}, apperr.Wrap(apperr.KindRotationFailed, op, err)
	}
	m.log.Info(logging.SessionRotated, logging.Fields{"user": rec.UserID, "handle": logging.Redact(next)})
	return Validation{Identity: identityOf(fresh), Handle: next, Rotated: true}, nil
}

func (m *Manager) expire(ctx context.Context, handle string, rec model.CacheRecord, reason string) {
	if err := m.cache.Remove(ctx, handle, rec.UserID); err != nil {
		m.log.Warn(logging.CacheCleanupFailed, err, logging.Fields{"handle": logging.Redact(handle)})
	}
	m.log.Info(logging.SessionExpired, logging.Fields{"user": rec.UserID, "reason": reason})
}

func (m *Manager) destroy(ctx context.Context, handle string, rec model.CacheRecord) error {
	if err := m.store.Delete(ctx, rec.DBSessionID); err != nil {
		return apperr.FromStore("session.destroy", err)
	}
	if err := m.cache.Remove(ctx, handle, rec.UserID); err != nil {
		return apperr.FromStore("session.destroy", err)
	}
	return nil
}

// Logout destroys the session behind handle.  An unknown handle is not an
// error.
func (m *Manager) Logout(ctx context.Context, handle string) error {
	const op = "session.logout"
	if handle == "" {
		return nil
	}
	rec, ok, err := m.cache.Get(ctx, handle)
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if !ok {
		return nil
	}
	if err := m.destroy(ctx, handle, rec); err != nil {
		return err
	}
	m.log.Info(logging.SessionDestroyed, logging.Fields{"user": rec.UserID, "handle": logging.Redact(handle)})
	return nil
}

// RevokeAll deletes every durable session of userID and every handle
// pointing at them.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	const op = "session.revoke_all"
	ids, err := m.store.DeleteByUser(ctx, userID)
	if err != nil {
		return apperr.FromStore(op, err)
	}
	if err := m.cache.PurgeUser(ctx, userID); err != nil {
		return apperr.FromStore(op, err)
	}
	m.log.Info(logging.SessionsRevoked, logging.Fields{"user": userID, "count": fmt.Sprint(len(ids))})
	return nil
}
