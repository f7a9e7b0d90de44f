package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SshgurkiratSingh/IPD-24/internal/store"
	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

func decodeActions(t *testing.T, raw string) task.Actions {
	t.Helper()
	var as task.Actions
	if err := json.Unmarshal([]byte(raw), &as); err != nil {
		t.Fatalf("decode actions: %v", err)
	}
	return as
}

func TestExecutePublishesExplicitEmptyValue(t *testing.T) {
	t.Parallel()
	fb := newFakeBus()
	st := store.NewMemory()
	exec := NewExecutor(st, fb, nil, zerolog.Nop())
	ctx := context.Background()

	// an empty payload clears a retained topic; it must go out, not be
	// dropped as invalid
	tk := &task.Task{
		ID:        "t1",
		Type:      task.TypeOneTime,
		Actions:   decodeActions(t, `[{"mqttTopic":"room/display","value":""}]`),
		Time:      time.Now().Unix(),
		CreatedAt: time.Now().UTC(),
	}
	seedTask(t, st, tk)

	res, err := exec.Execute(ctx, tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Published != 1 || res.Skipped != 0 {
		t.Fatalf("result = %+v, want 1 published", res)
	}
	val, ok := fb.lastPublished("room/display")
	if !ok || val != "" {
		t.Fatalf("published value = %q (ok=%v), want empty string", val, ok)
	}
}

func TestExecuteSkipsAbsentValue(t *testing.T) {
	t.Parallel()
	fb := newFakeBus()
	st := store.NewMemory()
	exec := NewExecutor(st, fb, nil, zerolog.Nop())
	ctx := context.Background()

	tk := &task.Task{
		ID:        "t1",
		Type:      task.TypeOneTime,
		Actions:   decodeActions(t, `[{"mqttTopic":"room/display"},{"mqttTopic":"room/light","value":"on"}]`),
		Time:      time.Now().Unix(),
		CreatedAt: time.Now().UTC(),
	}
	seedTask(t, st, tk)

	res, err := exec.Execute(ctx, tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Published != 1 || res.Skipped != 1 {
		t.Fatalf("result = %+v, want 1 published 1 skipped", res)
	}
	if fb.publishedTo("room/display") != 0 {
		t.Fatal("valueless action was published")
	}
	if fb.publishedTo("room/light") != 1 {
		t.Fatal("valid action not published")
	}
}

func TestExecuteAllActionsFailed(t *testing.T) {
	t.Parallel()
	fb := newFakeBus()
	fb.failPublish = true
	st := store.NewMemory()
	exec := NewExecutor(st, fb, nil, zerolog.Nop())
	ctx := context.Background()

	tk := &task.Task{
		ID:        "t1",
		Type:      task.TypeOneTime,
		Actions:   task.Actions{{Topic: "room/light", Value: "on"}},
		Time:      time.Now().Unix(),
		CreatedAt: time.Now().UTC(),
	}
	seedTask(t, st, tk)

	if _, err := exec.Execute(ctx, tk); err == nil {
		t.Fatal("expected error when every publish fails")
	}
	if n := execCount(st, "t1"); n != 0 {
		t.Fatalf("execution recorded for failed firing: %d rows", n)
	}
}
