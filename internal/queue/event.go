// Package queue moves queued notification tasks onto the message broker
// and drains them into a log sink that stands in for the mailer.
package queue

import (
	"time"

	"github.com/iliyamo/reservation-admin/internal/model"
)

// NotificationEvent is the message body published for one email task.
// Consumers render the template named by EmailCase with Variables; they
// never need to query the primary database.
type NotificationEvent struct {
	MessageID   string          `json:"message_id"`
	TaskID      int64           `json:"task_id"`
	EmailCase   model.EmailCase `json:"email_case"`
	Recipient   string          `json:"recipient"`
	Variables   map[string]any  `json:"variables"`
	Attempt     int             `json:"attempt"`
	EnqueuedAt  string          `json:"enqueued_at"`
	PublishedAt string          `json:"published_at"`
}

// NewNotificationEvent builds the event for a claimed task. The message
// id is filled in by the publisher.
func NewNotificationEvent(t model.Task, now time.Time) NotificationEvent {
	vars := t.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	return NotificationEvent{
		TaskID:      t.ID,
		EmailCase:   t.EmailCase,
		Recipient:   t.Recipient,
		Variables:   vars,
		Attempt:     t.Attempts + 1,
		EnqueuedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
		PublishedAt: now.UTC().Format(time.RFC3339),
	}
}
