package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// SessionRepo persists durable session rows (one per user+device).
type SessionRepo struct {
	db *sqlx.DB
	tx database.TxRunner
}

func NewSessionRepo(db *sqlx.DB, tx database.TxRunner) *SessionRepo {
	return &SessionRepo{db: db, tx: tx}
}

// Create replaces the session of (UserID, DeviceID) with s and evicts the
// oldest rows by lastActive until at most maxPerUser remain, all in one
// transaction. It returns the ids removed (the replaced row first, then
// the evicted ones) so the caller can drop their cache handles.
func (r *SessionRepo) Create(ctx context.Context, s model.Session, maxPerUser int) ([]string, error) {
	var removed []string
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := database.Ext(ctx, r.db)

		var replaced []string
		if err := sqlx.SelectContext(ctx, q, &replaced,
			`DELETE FROM "session" WHERE "userId" = $1 AND "deviceId" = $2 RETURNING "id"`,
			s.UserID, s.DeviceID); err != nil {
			return err
		}
		removed = append(removed, replaced...)

		if _, err := q.ExecContext(ctx,
			`INSERT INTO "session" ("id","userId","deviceId","userAgent","ip","createAt","lastActive")
			 VALUES ($1,$2,$3,$4,$5,$6,$6)`,
			s.ID, s.UserID, s.DeviceID, s.UserAgent, s.IP, s.CreatedAt); err != nil {
			return err
		}

		var ids []string
		if err := sqlx.SelectContext(ctx, q, &ids,
			`SELECT "id" FROM "session" WHERE "userId" = $1 ORDER BY "lastActive" ASC, "createAt" ASC, "id" ASC`,
			s.UserID); err != nil {
			return err
		}
		if len(ids) <= maxPerUser {
			return nil
		}
		oldest := ids[:len(ids)-maxPerUser]
		var evicted []string
		if err := sqlx.SelectContext(ctx, q, &evicted,
			`DELETE FROM "session" WHERE "id" = ANY($1) RETURNING "id"`,
			pq.Array(oldest)); err != nil {
			return err
		}
		removed = append(removed, evicted...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Get fetches a session row by id. ErrNotFound when absent.
func (r *SessionRepo) Get(ctx context.Context, id string) (model.Session, error) {
	var s model.Session
	err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &s,
		`SELECT "id","userId","deviceId","userAgent","ip","createAt","lastActive"
		 FROM "session" WHERE "id" = $1 LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// ListByUser returns a user's sessions, most recently active first.
func (r *SessionRepo) ListByUser(ctx context.Context, userID string) ([]model.Session, error) {
	var out []model.Session
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &out,
		`SELECT "id","userId","deviceId","userAgent","ip","createAt","lastActive"
		 FROM "session" WHERE "userId" = $1 ORDER BY "lastActive" DESC`, userID)
	return out, err
}

// Touch records a rotation: new client address, user agent and activity
// time. ErrNotFound when the row vanished in the meantime.
func (r *SessionRepo) Touch(ctx context.Context, id, ip, userAgent string, at time.Time) error {
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "session" SET "ip" = $2, "userAgent" = $3, "lastActive" = $4 WHERE "id" = $1`,
		id, ip, userAgent, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one session row. Deleting a missing row is not an error.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := database.Ext(ctx, r.db).ExecContext(ctx, `DELETE FROM "session" WHERE "id" = $1`, id)
	return err
}

// DeleteByUser removes every session of a user and returns their ids.
func (r *SessionRepo) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &ids,
		`DELETE FROM "session" WHERE "userId" = $1 RETURNING "id"`, userID)
	return ids, err
}
