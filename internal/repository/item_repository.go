package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

type ItemRepo struct {
	db *sqlx.DB
}

func NewItemRepo(db *sqlx.DB) *ItemRepo { return &ItemRepo{db: db} }

// GetForUpdate locks the item row for the rest of the transaction.
func (r *ItemRepo) GetForUpdate(ctx context.Context, id int64) (model.Item, error) {
	var it model.Item
	err := sqlx.GetContext(ctx, database.Ext(ctx, r.db), &it,
		`SELECT "id","name","point","status" FROM "item" WHERE "id" = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, ErrNotFound
	}
	return it, err
}

func (r *ItemRepo) SetStatus(ctx context.Context, id int64, status model.ItemStatus) error {
	res, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE "item" SET "status" = $2 WHERE "id" = $1`, id, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
