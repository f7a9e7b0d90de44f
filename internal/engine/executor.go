// Package engine turns persisted task definitions into live timers and bus
// subscriptions, and keeps the durable record consistent with what actually
// fired.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/bus"
	"github.com/SshgurkiratSingh/IPD-24/internal/store"
	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// NotifyTopic is the reserved action topic that routes a value to the user
// notification pipeline instead of the bus.
const NotifyTopic = "notify"

// Notifier is the slice of the notification service the executor needs.
type Notifier interface {
	Enqueue(text string) error
}

// Result reports what one firing did. Published+Skipped+Failed equals the
// number of action entries, so callers can tell partial delivery from full
// success.
type Result struct {
	Published int
	Skipped   int
	Failed    int
	// Count is the task's execution counter after this firing.
	Count int
}

// Executor performs the side effects of a firing task and records the
// outcome. The execution row and counter only advance on success: a firing
// where every publish failed is reported, not recorded.
type Executor struct {
	st    store.Store
	bus   bus.Bus
	notif Notifier // nil when notifications are disabled
	log   zerolog.Logger
	now   func() time.Time
}

func NewExecutor(st store.Store, b bus.Bus, notif Notifier, log zerolog.Logger) *Executor {
	return &Executor{st: st, bus: b, notif: notif, log: log, now: time.Now}
}

// Execute applies the task's actions in order. Entries missing a topic or
// value are skipped with a log, not aborted on. A transport error on one
// entry does not stop the remaining entries.
//
// Returns task.ErrNotFound when the task row vanished mid-fire (raced a
// delete); the firing's effects stand but nothing is recorded.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (Result, error) {
	var res Result
	for _, a := range t.Actions {
		switch {
		case a.Topic == "" || !a.HasValue():
			res.Skipped++
			e.log.Warn().Str("task", t.ID).Str("topic", a.Topic).Msg("skipping invalid action entry")
		case a.Topic == NotifyTopic && e.notif != nil:
			if err := e.notif.Enqueue(a.Value); err != nil {
				res.Failed++
				e.log.Error().Err(err).Str("task", t.ID).Msg("notification enqueue failed")
			} else {
				res.Published++
			}
		default:
			if err := e.bus.Publish(ctx, a.Topic, a.Value); err != nil {
				res.Failed++
				e.log.Error().Err(err).Str("task", t.ID).Str("topic", a.Topic).Msg("publish failed")
			} else {
				res.Published++
				e.log.Debug().Str("task", t.ID).Str("topic", a.Topic).Str("value", a.Value).Msg("published")
			}
		}
	}

	if res.Published == 0 && res.Failed > 0 {
		return res, fmt.Errorf("execute task %s: all %d actions failed", t.ID, res.Failed)
	}

	if err := e.st.AppendExecution(ctx, t.ID, e.now()); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			e.log.Debug().Str("task", t.ID).Msg("task deleted while firing, dropping execution record")
			return res, task.ErrNotFound
		}
		return res, err
	}
	count, err := e.st.IncrementExecuted(ctx, t.ID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return res, task.ErrNotFound
		}
		return res, err
	}
	res.Count = count
	return res, nil
}
