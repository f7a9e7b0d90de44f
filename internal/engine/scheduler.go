package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// Scheduler owns the in-memory timers for one-time and repetitive tasks,
// one per task id. Handles here are derived state: everything can be
// rebuilt from the store by a reconciliation pass.
//
// Per task the flow is pending -> armed -> fired; one-time tasks are
// terminal after the fire, repetitive tasks start their recurrence only
// after the first execution succeeds.
type Scheduler struct {
	exec        *Executor
	log         zerolog.Logger
	execTimeout time.Duration

	mu     sync.Mutex
	seq    map[string]uint64        // arm generation; stale fires check it and bail
	timers map[string]*time.Timer   // pending first-fire timers
	loops  map[string]chan struct{} // running repetitive loops
}

func NewScheduler(exec *Executor, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		exec:        exec,
		log:         log,
		execTimeout: 30 * time.Second,
		seq:         map[string]uint64{},
		timers:      map[string]*time.Timer{},
		loops:       map[string]chan struct{}{},
	}
}

// Arm schedules the task's first fire. Re-arming an id replaces any prior
// timer or loop. A fire time already in the past fires immediately; the
// delay never goes negative.
func (s *Scheduler) Arm(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(t.ID)
	s.seq[t.ID]++
	gen := s.seq[t.ID]

	delay := time.Until(t.FireAt())
	if delay < 0 {
		delay = 0
	}
	tt := t.Clone()
	s.timers[t.ID] = time.AfterFunc(delay, func() { s.fire(tt, gen) })
	s.log.Info().Str("task", t.ID).Str("type", string(t.Type)).Dur("delay", delay).Msg("task armed")
}

// Cancel is idempotent; unknown ids are a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) {
	s.seq[id]++ // invalidate any fire already dispatched
	if tm := s.timers[id]; tm != nil {
		tm.Stop()
		delete(s.timers, id)
	}
	if stop := s.loops[id]; stop != nil {
		close(stop)
		delete(s.loops, id)
	}
}

// Stop cancels every owned timer and loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.timers[id].Stop()
	}
	for _, stop := range s.loops {
		close(stop)
	}
	s.timers = map[string]*time.Timer{}
	s.loops = map[string]chan struct{}{}
	for id := range s.seq {
		s.seq[id]++
	}
	s.log.Info().Msg("scheduler stopped")
}

// Armed reports whether the task currently owns a timer or loop.
func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t := s.timers[id]
	_, l := s.loops[id]
	return t || l
}

func (s *Scheduler) fire(t *task.Task, gen uint64) {
	s.mu.Lock()
	if s.seq[t.ID] != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, t.ID)
	s.mu.Unlock()

	_, err := s.execute(t)
	if t.Type != task.TypeRepetitive {
		return // one-time: terminal, handle already discarded
	}
	if err != nil {
		// Reported, not retried: a failed first execution does not start
		// the recurrence.
		s.log.Warn().Str("task", t.ID).Err(err).Msg("first execution failed, recurrence not scheduled")
		return
	}

	s.mu.Lock()
	if s.seq[t.ID] != gen {
		s.mu.Unlock()
		return // cancelled while the first fire ran
	}
	stop := make(chan struct{})
	s.loops[t.ID] = stop
	s.mu.Unlock()

	s.log.Info().Str("task", t.ID).Dur("every", t.Repeat()).Msg("recurrence started")
	go s.runLoop(t, stop)
}

func (s *Scheduler) runLoop(t *task.Task, stop chan struct{}) {
	ticker := time.NewTicker(t.Repeat())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.execute(t); errors.Is(err, task.ErrNotFound) {
				s.Cancel(t.ID)
				return
			}
		}
	}
}

func (s *Scheduler) execute(t *task.Task) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.execTimeout)
	defer cancel()
	res, err := s.exec.Execute(ctx, t)
	switch {
	case errors.Is(err, task.ErrNotFound):
		s.log.Debug().Str("task", t.ID).Msg("task gone, fire dropped")
	case err != nil:
		s.log.Warn().Str("task", t.ID).Err(err).Msg("execution failed")
	default:
		s.log.Info().Str("task", t.ID).Int("published", res.Published).Int("count", res.Count).Msg("task fired")
	}
	return res, err
}
