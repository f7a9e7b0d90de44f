package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// memoryStore is a non-durable backend for tests and dry runs. Semantics
// mirror the sqlite backend, including the cascade on DeleteTask.
type memoryStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
	execs map[string][]task.Execution
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		tasks: map[string]*task.Task{},
		execs: map[string][]task.Execution{},
	}
}

func (m *memoryStore) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memoryStore) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return task.ErrNotFound
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *memoryStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *memoryStore) ListTasks(_ context.Context) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) ListByTriggerTopic(_ context.Context, topic string) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.Task
	for _, t := range m.tasks {
		if t.Type == task.TypeTriggerBased && t.Trigger != nil && t.Trigger.Topic == topic {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return task.ErrNotFound
	}
	delete(m.tasks, id)
	delete(m.execs, id)
	return nil
}

func (m *memoryStore) AppendExecution(_ context.Context, taskID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return task.ErrNotFound
	}
	m.execs[taskID] = append(m.execs[taskID], task.Execution{TaskID: taskID, ExecutedAt: at})
	return nil
}

func (m *memoryStore) ListExecutions(_ context.Context, taskID string) ([]task.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Execution(nil), m.execs[taskID]...), nil
}

func (m *memoryStore) IncrementExecuted(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return 0, task.ErrNotFound
	}
	t.ExecutedCount++
	return t.ExecutedCount, nil
}

func (m *memoryStore) PruneExecutions(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, list := range m.execs {
		kept := list[:0]
		for _, e := range list {
			if e.ExecutedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		m.execs[id] = kept
	}
	return n, nil
}

func (m *memoryStore) Close() error { return nil }
