package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/store"
	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// Controller is the public entry point of the engine: it validates and
// normalizes definitions, persists them, and routes them to the scheduler
// or trigger manager. Durable state always changes before or together with
// arming; a task is never left persisted without a live schedule (a failed
// arm rolls the row back).
type Controller struct {
	st    store.Store
	sched *Scheduler
	trig  *TriggerManager
	log   zerolog.Logger
	grace time.Duration
	now   func() time.Time
}

func NewController(st store.Store, sched *Scheduler, trig *TriggerManager, grace time.Duration, log zerolog.Logger) *Controller {
	if grace <= 0 {
		grace = task.DefaultGrace
	}
	c := &Controller{st: st, sched: sched, trig: trig, grace: grace, log: log, now: time.Now}
	trig.SetLimitHook(func(id string) {
		if err := c.Delete(context.Background(), id); err != nil && !errors.Is(err, task.ErrNotFound) {
			c.log.Error().Err(err).Str("task", id).Msg("deleting exhausted task failed")
		}
	})
	return c
}

// Create validates, persists, and arms a new task.
func (c *Controller) Create(ctx context.Context, def *task.Task) (*task.Task, error) {
	t := def.Clone()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.ExecutedCount = 0
	t.CreatedAt = c.now().UTC()
	t.Normalize(c.now(), c.grace)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := c.st.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	if err := c.arm(t); err != nil {
		// a failed subscribe keeps its registration for retry; drop it
		// along with the row
		c.trig.Unregister(t.ID)
		_ = c.st.DeleteTask(ctx, t.ID)
		return nil, err
	}
	c.log.Info().Str("task", t.ID).Str("type", string(t.Type)).Msg("task scheduled")
	return t, nil
}

// Update merges a partial definition into the stored task, re-validates,
// and re-arms from scratch — no stale timer or subscription survives a
// definition change. The id and execution history are kept.
func (c *Controller) Update(ctx context.Context, id string, p *task.Patch) (*task.Task, error) {
	existing, err := c.st.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	merged, contractChanged := p.Apply(existing)
	merged.Normalize(c.now(), c.grace)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	c.sched.Cancel(id)
	c.trig.Unregister(id)

	if err := c.st.UpdateTask(ctx, merged); err != nil {
		// the row still holds the old definition; put its schedule back
		if armErr := c.arm(existing); armErr != nil {
			c.log.Error().Err(armErr).Str("task", id).Msg("restoring previous schedule failed, resync will retry")
		}
		return nil, err
	}
	if err := c.arm(merged); err != nil {
		// the new definition is persisted; the periodic resync retries the
		// subscription rather than deleting the task and its history
		c.log.Warn().Err(err).Str("task", id).Msg("re-arm after update failed, resync will retry")
		return nil, err
	}
	c.log.Info().Str("task", id).Bool("counter_reset", contractChanged).Msg("task updated")
	return merged, nil
}

// Delete cancels any owned timer, drops the trigger subscription if no
// other task shares the topic, and removes the task row (the execution
// history cascades with it).
func (c *Controller) Delete(ctx context.Context, id string) error {
	if _, err := c.st.GetTask(ctx, id); err != nil {
		return err
	}
	c.sched.Cancel(id)
	c.trig.Unregister(id)
	if err := c.st.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.log.Info().Str("task", id).Msg("task deleted")
	return nil
}

func (c *Controller) Get(ctx context.Context, id string) (*task.Task, error) {
	return c.st.GetTask(ctx, id)
}

func (c *Controller) List(ctx context.Context) ([]*task.Task, error) {
	return c.st.ListTasks(ctx)
}

func (c *Controller) History(ctx context.Context, id string) ([]task.Execution, error) {
	if _, err := c.st.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return c.st.ListExecutions(ctx, id)
}

func (c *Controller) arm(t *task.Task) error {
	if t.TimeBased() {
		c.sched.Arm(t)
		return nil
	}
	return c.trig.Register(t)
}
