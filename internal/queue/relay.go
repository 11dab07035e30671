package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/reservation-admin/internal/apperr"
	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/model"
)

// Tasks is the consumer side of the task table.
type Tasks interface {
	Claim(ctx context.Context, n int) ([]model.Task, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, cause string, next time.Time) error
	MarkFailed(ctx context.Context, id int64, cause string) error
}

// Relay drains pending tasks to the broker.
type Relay struct {
	tasks Tasks
	pub   Publisher
	cfg   config.QueueConfig
	log   logging.Logger
	now   func() time.Time
}

func NewRelay(tasks Tasks, pub Publisher, cfg config.QueueConfig, log logging.Logger) *Relay {
	return &Relay{tasks: tasks, pub: pub, cfg: cfg, log: log, now: time.Now}
}

// Stats counts what one RunOnce pass did.
type Stats struct {
	Claimed   int
	Published int
	Retried   int
	Failed    int
}

// backoff doubles RetryBase for every attempt already made.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.RetryBase
	for i := 1; i < attempts && d < time.Hour; i++ {
		d *= 2
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// RunOnce claims one batch and publishes it. A task whose attempt budget is
// spent is marked failed and never claimed again.
func (r *Relay) RunOnce(ctx context.Context) (Stats, error) {
	const op = "queue.relay"
	var st Stats
	batch, err := r.tasks.Claim(ctx, r.cfg.BatchSize)
	if err != nil {
		return st, apperr.FromStore(op, err)
	}
	st.Claimed = len(batch)

	for _, t := range batch {
		fields := logging.Fields{"task": fmt.Sprint(t.ID), "case": string(t.EmailCase)}
		perr := r.pub.Publish(ctx, NewNotificationEvent(t, r.now()))
		if perr == nil {
			if err := r.tasks.MarkCompleted(ctx, t.ID); err != nil {
				return st, apperr.FromStore(op, err)
			}
			st.Published++
			r.log.Info(logging.TaskPublished, fields)
			continue
		}

		attempts := t.Attempts + 1
		fields["attempt"] = fmt.Sprint(attempts)
		if attempts >= r.cfg.MaxAttempts {
			if err := r.tasks.MarkFailed(ctx, t.ID, perr.Error()); err != nil {
				return st, apperr.FromStore(op, err)
			}
			st.Failed++
			r.log.Warn(logging.TaskFailed, perr, fields)
			continue
		}
		next := r.now().Add(r.backoff(attempts))
		if err := r.tasks.MarkRetry(ctx, t.ID, perr.Error(), next); err != nil {
			return st, apperr.FromStore(op, err)
		}
		st.Retried++
		r.log.Warn(logging.TaskRetry, perr, fields)
	}
	return st, nil
}

// Run polls until ctx is done. A full batch is followed immediately by the
// next claim; otherwise the relay sleeps PollInterval.
func (r *Relay) Run(ctx context.Context) error {
	for {
		st, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn(logging.TaskRetry, err, logging.Fields{"stage": "claim"})
		}
		if err == nil && st.Claimed == r.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}
