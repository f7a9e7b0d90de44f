// Package store is the durable source of truth for tasks and their
// execution history. The scheduler and trigger manager hold only derived
// handles; everything they need can be rebuilt from here.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

// Store is the persistence API used by the engine. Implementations must be
// read-after-write consistent: a CreateTask must be visible to an immediate
// GetTask.
type Store interface {
	CreateTask(ctx context.Context, t *task.Task) error
	UpdateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
	// ListByTriggerTopic returns the trigger-based tasks watching topic.
	ListByTriggerTopic(ctx context.Context, topic string) ([]*task.Task, error)
	// DeleteTask removes the task and cascades its execution rows.
	DeleteTask(ctx context.Context, id string) error

	// AppendExecution records one successful firing. Returns
	// task.ErrNotFound when the task row no longer exists (deleted while a
	// fire was in flight).
	AppendExecution(ctx context.Context, taskID string, at time.Time) error
	ListExecutions(ctx context.Context, taskID string) ([]task.Execution, error)
	// IncrementExecuted bumps the counter and returns the new value.
	IncrementExecuted(ctx context.Context, id string) (int, error)
	// PruneExecutions drops history rows older than before.
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Config configures the store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process, non-durable (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
