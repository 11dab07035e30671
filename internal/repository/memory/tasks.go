package memory

import (
	"context"
	"time"

	"github.com/iliyamo/reservation-admin/internal/model"
)

// TaskQueue mirrors repository.TaskRepo.
type TaskQueue struct{ db *DB }

func (db *DB) Tasks() *TaskQueue { return &TaskQueue{db: db} }

func (q *TaskQueue) Enqueue(ctx context.Context, tasks []model.Task) error {
	db := q.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("tasks.enqueue"); err != nil {
		return err
	}
	now := db.now()
	for _, t := range tasks {
		db.t.taskSeq++
		t.ID = db.t.taskSeq
		if t.Type == "" {
			t.Type = model.TaskTypeEmail
		}
		t.Status = model.TaskPending
		t.NextAttemptAt = now
		t.CreatedAt = now
		db.t.tasks = append(db.t.tasks, t)
	}
	return nil
}

func (q *TaskQueue) Claim(ctx context.Context, n int) ([]model.Task, error) {
	db := q.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("tasks.claim"); err != nil {
		return nil, err
	}
	now := db.now()
	var out []model.Task
	for i, t := range db.t.tasks {
		if len(out) == n {
			break
		}
		if t.Status != model.TaskPending || t.NextAttemptAt.After(now) {
			continue
		}
		db.t.tasks[i].Status = model.TaskProcessing
		out = append(out, db.t.tasks[i])
	}
	return out, nil
}

func (q *TaskQueue) update(op string, id int64, fn func(t *model.Task)) error {
	db := q.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure(op); err != nil {
		return err
	}
	for i := range db.t.tasks {
		if db.t.tasks[i].ID == id {
			fn(&db.t.tasks[i])
			return nil
		}
	}
	return nil
}

func (q *TaskQueue) MarkCompleted(ctx context.Context, id int64) error {
	return q.update("tasks.mark", id, func(t *model.Task) {
		t.Status = model.TaskCompleted
		t.Attempts++
		delete(q.db.t.taskErr, id)
	})
}

func (q *TaskQueue) MarkRetry(ctx context.Context, id int64, cause string, next time.Time) error {
	return q.update("tasks.mark", id, func(t *model.Task) {
		t.Status = model.TaskPending
		t.Attempts++
		t.NextAttemptAt = next
		q.db.t.taskErr[id] = cause
	})
}

func (q *TaskQueue) MarkFailed(ctx context.Context, id int64, cause string) error {
	return q.update("tasks.mark", id, func(t *model.Task) {
		t.Status = model.TaskFailed
		t.Attempts++
		q.db.t.taskErr[id] = cause
	})
}
