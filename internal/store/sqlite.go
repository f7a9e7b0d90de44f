package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	// Required for the task_executions cascade.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateTask(ctx context.Context, t *task.Task) error {
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return err
	}
	var topic, value, cond any
	if t.Trigger != nil {
		topic, value = t.Trigger.Topic, t.Trigger.Value
	}
	if t.Condition != "" {
		cond = string(t.Condition)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, task_type, fire_at, repeat_secs, trigger_topic, trigger_value, condition, fire_limit, executed_count, actions, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, string(t.Type), t.Time, t.RepeatTime, topic, value, cond,
		t.Limit, t.ExecutedCount, string(actions), t.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t *task.Task) error {
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return err
	}
	var topic, value, cond any
	if t.Trigger != nil {
		topic, value = t.Trigger.Topic, t.Trigger.Value
	}
	if t.Condition != "" {
		cond = string(t.Condition)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET task_type=?, fire_at=?, repeat_secs=?, trigger_topic=?, trigger_value=?, condition=?, fire_limit=?, executed_count=?, actions=?
		 WHERE id=?`,
		string(t.Type), t.Time, t.RepeatTime, topic, value, cond,
		t.Limit, t.ExecutedCount, string(actions), t.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

const taskColumns = `id, task_type, fire_at, repeat_secs, trigger_topic, trigger_value, condition, fire_limit, executed_count, actions, created_at`

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) ListByTriggerTopic(ctx context.Context, topic string) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_type = ? AND trigger_topic = ? ORDER BY created_at`,
		string(task.TypeTriggerBased), topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendExecution(ctx context.Context, taskID string, at time.Time) error {
	// The EXISTS guard turns a fire racing a delete into a graceful no-op
	// signalled as ErrNotFound instead of a foreign key violation.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_executions(task_id, executed_at)
		 SELECT ?, ? WHERE EXISTS(SELECT 1 FROM tasks WHERE id = ?)`,
		taskID, at.UTC().Format(time.RFC3339Nano), taskID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return task.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListExecutions(ctx context.Context, taskID string) ([]task.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, executed_at FROM task_executions WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Execution
	for rows.Next() {
		var e task.Execution
		var at string
		if err := rows.Scan(&e.TaskID, &at); err != nil {
			return nil, err
		}
		e.ExecutedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) IncrementExecuted(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET executed_count = executed_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, task.ErrNotFound
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT executed_count FROM tasks WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *sqliteStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_executions WHERE executed_at < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t         task.Task
		typ       string
		topic     sql.NullString
		value     sql.NullString
		cond      sql.NullString
		actions   string
		createdAt string
	)
	err := row.Scan(&t.ID, &typ, &t.Time, &t.RepeatTime, &topic, &value, &cond,
		&t.Limit, &t.ExecutedCount, &actions, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Type = task.Type(typ)
	if topic.Valid || value.Valid {
		t.Trigger = &task.Trigger{Topic: topic.String, Value: value.String}
	}
	t.Condition = task.Condition(cond.String)
	if err := json.Unmarshal([]byte(actions), &t.Actions); err != nil {
		return nil, fmt.Errorf("decode actions for task %s: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
