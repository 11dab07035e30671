package memory

import (
	"context"
	"time"

	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

// SessionStore mirrors repository.SessionRepo.
type SessionStore struct{ db *DB }

func (db *DB) Sessions() *SessionStore { return &SessionStore{db: db} }

func (s *SessionStore) Create(ctx context.Context, sess model.Session, maxPerUser int) ([]string, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("sessions.create"); err != nil {
		return nil, err
	}

	var removed []string
	for id, old := range db.t.sessions {
		if old.UserID == sess.UserID && old.DeviceID == sess.DeviceID {
			delete(db.t.sessions, id)
			removed = append(removed, id)
		}
	}
	db.t.sessions[sess.ID] = sess

	all := db.sessionsOf(sess.UserID, true)
	if excess := len(all) - maxPerUser; excess > 0 {
		for _, old := range all[:excess] {
			delete(db.t.sessions, old.ID)
			removed = append(removed, old.ID)
		}
	}
	return removed, nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (model.Session, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("sessions.get"); err != nil {
		return model.Session{}, err
	}
	sess, ok := db.t.sessions[id]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return sess, nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]model.Session, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("sessions.list"); err != nil {
		return nil, err
	}
	return db.sessionsOf(userID, false), nil
}

func (s *SessionStore) Touch(ctx context.Context, id, ip, userAgent string, at time.Time) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("sessions.touch"); err != nil {
		return err
	}
	sess, ok := db.t.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	sess.IP, sess.UserAgent, sess.LastActive = ip, userAgent, at
	db.t.sessions[id] = sess
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("sessions.delete"); err != nil {
		return err
	}
	delete(db.t.sessions, id)
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("sessions.delete_by_user"); err != nil {
		return nil, err
	}
	var ids []string
	for id, sess := range db.t.sessions {
		if sess.UserID == userID {
			delete(db.t.sessions, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}
