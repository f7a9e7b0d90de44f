package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// Reconcile rebuilds the in-memory schedules and subscriptions from the
// store. Run it once at startup: the process loses every armed timer on
// restart, but the task rows survive.
//
// Past-due time-based tasks are fast-forwarded by the grace delay, the same
// policy applied at acceptance time. One-time tasks that already fired stay
// terminal and are not re-armed.
func (c *Controller) Reconcile(ctx context.Context) error {
	tasks, err := c.st.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	var armed, subscribed int
	var firstErr error
	for _, t := range tasks {
		switch {
		case t.Type == task.TypeOneTime && t.ExecutedCount > 0:
			continue
		case t.TimeBased():
			before := t.Time
			t.Normalize(c.now(), c.grace)
			if t.Time != before {
				if err := c.st.UpdateTask(ctx, t); err != nil {
					c.log.Warn().Err(err).Str("task", t.ID).Msg("persisting fast-forwarded time failed")
				}
			}
			c.sched.Arm(t)
			armed++
		default:
			if err := c.trig.Register(t); err != nil {
				c.log.Error().Err(err).Str("task", t.ID).Msg("re-subscribing trigger failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			subscribed++
		}
	}
	c.log.Info().Int("armed", armed).Int("subscribed", subscribed).Int("total", len(tasks)).Msg("reconciliation complete")
	return firstErr
}

// StartJobs runs the engine's periodic maintenance on a cron: a trigger
// subscription resync every interval (retries subscriptions that failed at
// create or reconcile time) and a daily execution-history prune.
func (c *Controller) StartJobs(interval, retention time.Duration) (*cron.Cron, error) {
	cr := cron.New()
	if interval > 0 {
		_, err := cr.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := c.trig.Resync(ctx); err != nil {
				c.log.Warn().Err(err).Msg("trigger resync failed")
			}
		})
		if err != nil {
			return nil, err
		}
	}
	if retention > 0 {
		_, err := cr.AddFunc("@daily", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := c.st.PruneExecutions(ctx, c.now().Add(-retention))
			if err != nil {
				c.log.Warn().Err(err).Msg("history prune failed")
				return
			}
			if n > 0 {
				c.log.Info().Int64("pruned", n).Msg("execution history pruned")
			}
		})
		if err != nil {
			return nil, err
		}
	}
	cr.Start()
	return cr, nil
}
