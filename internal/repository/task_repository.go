package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// TaskRepo is the notification task queue backed by the `tasks` table.
type TaskRepo struct {
	db *sqlx.DB
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo { return &TaskRepo{db: db} }

// Enqueue appends pending tasks in one statement.  Called inside the
// transaction that produced them so they commit or vanish together.
func (r *TaskRepo) Enqueue(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	types, cases, recipients, vars, err := taskColumns(tasks)
	if err != nil {
		return err
	}
	_, err = database.Ext(ctx, r.db).ExecContext(ctx,
		`INSERT INTO tasks ("type","status","emailCase","recipientEmail","variables")
		 SELECT t.typ, 'pending', t.ecase, t.recipient, t.vars::jsonb
		 FROM unnest($1::text[], $2::text[], $3::text[], $4::text[]) AS t(typ, ecase, recipient, vars)`,
		pq.Array(types), pq.Array(cases), pq.Array(recipients), pq.Array(vars))
	return err
}

type taskRow struct {
	model.Task
	RawVariables []byte `db:"variables"`
}

// Claim moves up to n due pending tasks to processing and returns them.
// Rows locked by another relay are skipped.
func (r *TaskRepo) Claim(ctx context.Context, n int) ([]model.Task, error) {
	var rows []taskRow
	err := sqlx.SelectContext(ctx, database.Ext(ctx, r.db), &rows,
		`UPDATE tasks SET "status" = 'processing', "updateAt" = NOW()
		 WHERE "id" IN (
		     SELECT "id" FROM tasks
		     WHERE "status" = 'pending' AND "nextAttemptAt" <= NOW()
		     ORDER BY "id"
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED)
		 RETURNING "id","type","status","emailCase","recipientEmail","variables",
		           "attempts","nextAttemptAt","createAt"`, n)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(rows))
	for _, row := range rows {
		t := row.Task
		if len(row.RawVariables) > 0 {
			if err := json.Unmarshal(row.RawVariables, &t.Variables); err != nil {
				return nil, fmt.Errorf("decode variables of task %d: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkCompleted records a successful hand-off.
func (r *TaskRepo) MarkCompleted(ctx context.Context, id int64) error {
	_, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET "status" = 'completed', "attempts" = "attempts" + 1,
		        "lastError" = '', "updateAt" = NOW()
		 WHERE "id" = $1`, id)
	return err
}

// MarkRetry puts the task back to pending, due at next.
func (r *TaskRepo) MarkRetry(ctx context.Context, id int64, cause string, next time.Time) error {
	_, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET "status" = 'pending', "attempts" = "attempts" + 1,
		        "lastError" = $2, "nextAttemptAt" = $3, "updateAt" = NOW()
		 WHERE "id" = $1`, id, cause, next)
	return err
}

// MarkFailed is terminal: the task is never claimed again.
func (r *TaskRepo) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := database.Ext(ctx, r.db).ExecContext(ctx,
		`UPDATE tasks SET "status" = 'failed', "attempts" = "attempts" + 1,
		        "lastError" = $2, "updateAt" = NOW()
		 WHERE "id" = $1`, id, cause)
	return err
}
