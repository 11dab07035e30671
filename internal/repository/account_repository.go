package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// AccountRepo reads and mutates account rows and the ban list.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `"id","email","name","password","role","point","club","note","createAt"`

// GetByEmail is used by login.  Deleted and pending accounts are returned
// too; callers check Role.Live.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	var a model.Account
	err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &a,
		`SELECT `+accountColumns+` FROM "account" WHERE "email" = $1 LIMIT 1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// GetForUpdate locks the account row for the rest of the transaction.
func (r *AccountRepo) GetForUpdate(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &a,
		`SELECT `+accountColumns+` FROM "account" WHERE "id" = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// UpdateRole sets the role.  The club flag is cleared for every role but
// customer.
func (r *AccountRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "account"
		 SET "role" = $2, "club" = CASE WHEN $2 = $3 THEN "club" ELSE false END
		 WHERE "id" = $1`,
		id, string(role), string(model.RoleCustomer))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Anonymize marks the account deleted and rewrites its email so the
// original address can register again.
func (r *AccountRepo) Anonymize(ctx context.Context, id, email, note string) error {
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "account"
		 SET "role" = $2, "email" = $3, "note" = $4, "club" = false
		 WHERE "id" = $1`,
		id, string(model.RoleDeleted), email, note)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EmailInUse reports whether a live account other than exceptID uses the
// email.
func (r *AccountRepo) EmailInUse(ctx context.Context, email, exceptID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &n,
		`SELECT COUNT(*) FROM "account"
		 WHERE "email" = $1 AND "id" <> $2 AND "role" IN ('user','courier','admin')`,
		email, exceptID)
	return n > 0, err
}

// InsertBan adds email to the ban list.  Banning twice keeps the first
// entry.
func (r *AccountRepo) InsertBan(ctx context.Context, b model.Ban) error {
	_, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`INSERT INTO "ban" ("email","reason","timestamp") VALUES ($1,$2,$3)
		 ON CONFLICT ("email") DO NOTHING`,
		b.Email, b.Reason, b.Timestamp)
	return err
}

// DeleteBan lifts a ban.  ErrNotFound when the email was not banned.
func (r *AccountRepo) DeleteBan(ctx context.Context, email string) error {
	res, err := database.Ext(ctx, r.db).ExecContext(ctx, `DELETE FROM "ban" WHERE "email" = $1`, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsBanned reports whether email is on the ban list.
func (r *AccountRepo) IsBanned(ctx context.Context, email string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &n,
		`SELECT COUNT(*) FROM "ban" WHERE "email" = $1`, email)
	return n > 0, err
}
