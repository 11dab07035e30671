package model

import "time"

// EmailCase names the template a notification task is rendered with.
type EmailCase string

const (
	EmailRoleChange       EmailCase = "role_change"
	EmailDeleteAccount    EmailCase = "delete_account"
	EmailBanAccount       EmailCase = "ban_account"
	EmailOrderCancelUser  EmailCase = "order_cancel_user"
	EmailOrderCancelStaff EmailCase = "order_cancel_staff"
	EmailSlotCancelStaff  EmailCase = "slot_cancel_staff"
)

// TaskStatus is the delivery state of a queued task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskTypeEmail is the only task type produced by this service.
const TaskTypeEmail = "email"

// Task is a row of the `tasks` table.  Variables is stored as jsonb.
type Task struct {
	ID            int64          `db:"id"`
	Type          string         `db:"type"`
	Status        TaskStatus     `db:"status"`
	EmailCase     EmailCase      `db:"emailCase"`
	Recipient     string         `db:"recipientEmail"`
	Variables     map[string]any `db:"-"`
	Attempts      int            `db:"attempts"`
	NextAttemptAt time.Time      `db:"nextAttemptAt"`
	CreatedAt     time.Time      `db:"createAt"`
}

// NewEmailTask builds a pending email task.
func NewEmailTask(c EmailCase, recipient string, vars map[string]any) Task {
	if vars == nil {
		vars = map[string]any{}
	}
	return Task{
		Type:      TaskTypeEmail,
		Status:    TaskPending,
		EmailCase: c,
		Recipient: recipient,
		Variables: vars,
	}
}
