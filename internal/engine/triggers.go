package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/bus"
	"github.com/SshgurkiratSingh/IPD-24/internal/store"
	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// TriggerManager owns the bus subscriptions for trigger-based tasks.
// Subscriptions are reference-counted per topic: the broker subscribe goes
// out on the first task watching a topic, the unsubscribe when the last one
// is removed, so deleting one of two tasks sharing a topic never silences
// the other.
//
// Evaluation and bookkeeping for one task are serialized through a per-task
// mutex. Two qualifying messages arriving back to back both re-read the
// task inside that lock, so the executed counter can never race past the
// limit.
type TriggerManager struct {
	st   store.Store
	bus  bus.Bus
	exec *Executor
	log  zerolog.Logger

	// onLimit tears a task down completely once its finite limit is
	// reached; wired to the lifecycle controller's Delete.
	onLimit func(id string)

	mu         sync.Mutex
	refs       map[string]int           // topic -> registered task count
	subscribed map[string]bool          // topic -> broker subscribe confirmed
	pending    map[string]chan struct{} // topic -> in-flight broker subscribe
	topics     map[string]string        // task id -> registered topic
	locks      map[string]*sync.Mutex
}

func NewTriggerManager(st store.Store, b bus.Bus, exec *Executor, log zerolog.Logger) *TriggerManager {
	return &TriggerManager{
		st:         st,
		bus:        b,
		exec:       exec,
		log:        log,
		refs:       map[string]int{},
		subscribed: map[string]bool{},
		pending:    map[string]chan struct{}{},
		topics:     map[string]string{},
		locks:      map[string]*sync.Mutex{},
	}
}

// SetLimitHook installs the teardown callback invoked when a task reaches
// its limit. Must be called before the first Register.
func (m *TriggerManager) SetLimitHook(fn func(id string)) { m.onLimit = fn }

// Register maps the task to its trigger topic and ensures a broker
// subscription exists for that topic. A failed subscribe keeps the
// registration in place so a later Register or Resync can retry the broker
// call; the error is still returned to the caller.
func (m *TriggerManager) Register(t *task.Task) error {
	if t.Trigger == nil {
		return &task.ValidationError{Field: "trigger", Reason: "trigger is required for trigger-based tasks"}
	}
	topic := t.Trigger.Topic

	m.mu.Lock()
	if old, ok := m.topics[t.ID]; ok && old != topic {
		m.mu.Unlock()
		m.Unregister(t.ID)
		m.mu.Lock()
	}
	if _, ok := m.topics[t.ID]; !ok {
		m.refs[topic]++
		m.topics[t.ID] = topic
	}
	m.mu.Unlock()

	return m.ensureSubscribed(topic)
}

// ensureSubscribed makes the broker subscription for topic real. Only one
// attempt per topic is in flight at a time; concurrent registrants wait for
// its outcome and retry themselves if it failed, so a second task can never
// end up mapped to a topic nobody actually subscribed to.
func (m *TriggerManager) ensureSubscribed(topic string) error {
	for {
		m.mu.Lock()
		if m.refs[topic] == 0 {
			m.mu.Unlock()
			return nil // topic released while waiting
		}
		if m.subscribed[topic] {
			m.mu.Unlock()
			return nil
		}
		if ch, inflight := m.pending[topic]; inflight {
			m.mu.Unlock()
			<-ch
			continue
		}
		ch := make(chan struct{})
		m.pending[topic] = ch
		m.mu.Unlock()

		err := m.bus.Subscribe(topic, m.handleMessage)

		m.mu.Lock()
		delete(m.pending, topic)
		close(ch)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if m.refs[topic] == 0 {
			// every registrant left while the subscribe was in flight
			m.mu.Unlock()
			_ = m.bus.Unsubscribe(topic)
			return nil
		}
		m.subscribed[topic] = true
		m.mu.Unlock()
		m.log.Info().Str("topic", topic).Msg("subscribed to trigger topic")
		return nil
	}
}

// Unregister drops the task's reference; the broker unsubscribe goes out
// only when no other task watches the topic. Unknown ids are a no-op.
func (m *TriggerManager) Unregister(id string) {
	m.mu.Lock()
	topic, ok := m.topics[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.topics, id)
	delete(m.locks, id)
	m.refs[topic]--
	last := m.refs[topic] <= 0
	var wasSubscribed bool
	if last {
		delete(m.refs, topic)
		wasSubscribed = m.subscribed[topic]
		delete(m.subscribed, topic)
	}
	m.mu.Unlock()

	// with a subscribe still in flight, ensureSubscribed sees the zero
	// refcount and releases the topic itself
	if last && wasSubscribed {
		if err := m.bus.Unsubscribe(topic); err != nil {
			m.log.Warn().Err(err).Str("topic", topic).Msg("unsubscribe failed")
		} else {
			m.log.Info().Str("topic", topic).Msg("unsubscribed from trigger topic")
		}
	}
}

// Resync reconciles the subscription set against the store: missing
// subscriptions are re-registered (a failed subscribe must not leave a task
// un-triggerable forever), orphaned ones are dropped.
func (m *TriggerManager) Resync(ctx context.Context) error {
	tasks, err := m.st.ListTasks(ctx)
	if err != nil {
		return err
	}
	desired := map[string]*task.Task{}
	for _, t := range tasks {
		if t.Type == task.TypeTriggerBased && t.Trigger != nil {
			desired[t.ID] = t
		}
	}

	m.mu.Lock()
	var gone []string
	for id := range m.topics {
		if _, ok := desired[id]; !ok {
			gone = append(gone, id)
		}
	}
	m.mu.Unlock()

	for _, id := range gone {
		m.Unregister(id)
	}
	var firstErr error
	for _, t := range desired {
		if err := m.Register(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleMessage runs once per inbound bus message. Tasks watching the topic
// are evaluated independently; there is no ordering between them, but the
// messages themselves arrive in order.
func (m *TriggerManager) handleMessage(topic, payload string) {
	ctx := context.Background()
	tasks, err := m.st.ListByTriggerTopic(ctx, topic)
	if err != nil {
		m.log.Error().Err(err).Str("topic", topic).Msg("listing tasks for topic failed")
		return
	}
	m.log.Debug().Str("topic", topic).Int("tasks", len(tasks)).Msg("trigger message received")
	for _, t := range tasks {
		m.handleTask(ctx, t.ID, payload)
	}
}

func (m *TriggerManager) taskLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[id] = lk
	}
	return lk
}

func (m *TriggerManager) handleTask(ctx context.Context, id, payload string) {
	lk := m.taskLock(id)
	lk.Lock()
	defer lk.Unlock()

	// Re-read inside the lock: a concurrent message for the same task must
	// see this firing's counter before doing its own limit check.
	t, err := m.st.GetTask(ctx, id)
	if errors.Is(err, task.ErrNotFound) {
		return
	}
	if err != nil {
		m.log.Error().Err(err).Str("task", id).Msg("loading task failed")
		return
	}
	if t.Trigger == nil {
		return
	}
	if !t.Condition.Valid() {
		// Configuration defect, not a runtime fault.
		m.log.Warn().Str("task", t.ID).Str("condition", string(t.Condition)).Msg("unknown condition, task will never fire")
		return
	}
	if !task.Evaluate(payload, t.Trigger.Value, t.Condition) {
		return // expected, frequent, silent
	}
	if !t.Unlimited() && t.ExecutedCount >= t.Limit {
		return
	}

	res, err := m.exec.Execute(ctx, t)
	if err != nil {
		if !errors.Is(err, task.ErrNotFound) {
			m.log.Warn().Err(err).Str("task", t.ID).Msg("trigger execution failed, counter not advanced")
		}
		return
	}
	m.log.Info().Str("task", t.ID).Int("count", res.Count).Int("limit", t.Limit).Msg("trigger fired")

	if !t.Unlimited() && res.Count >= t.Limit {
		m.log.Info().Str("task", t.ID).Msg("execution limit reached, deleting task")
		if m.onLimit != nil {
			m.onLimit(t.ID)
		}
	}
}
