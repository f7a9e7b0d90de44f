package task

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestActionsDecodeSingleObject(t *testing.T) {
	t.Parallel()
	var as Actions
	if err := json.Unmarshal([]byte(`{"mqttTopic":"room/light","value":"on"}`), &as); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(as) != 1 || as[0].Topic != "room/light" || as[0].Value != "on" {
		t.Fatalf("unexpected actions: %+v", as)
	}
}

func TestActionsDecodeList(t *testing.T) {
	t.Parallel()
	var as Actions
	raw := `[{"mqttTopic":"room/fan","value":1},{"mqttTopic":"room/light","value":false}]`
	if err := json.Unmarshal([]byte(raw), &as); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(as) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(as))
	}
	if as[0].Value != "1" {
		t.Fatalf("numeric value not coerced: %q", as[0].Value)
	}
	if as[1].Value != "false" {
		t.Fatalf("bool value not coerced: %q", as[1].Value)
	}
}

func TestActionValuePresence(t *testing.T) {
	t.Parallel()
	var as Actions
	raw := `[
		{"mqttTopic":"room/display","value":""},
		{"mqttTopic":"room/display"},
		{"mqttTopic":"room/display","value":null}
	]`
	if err := json.Unmarshal([]byte(raw), &as); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !as[0].HasValue() {
		t.Fatal("explicit empty string treated as missing")
	}
	if as[1].HasValue() || as[2].HasValue() {
		t.Fatal("absent/null value treated as present")
	}

	// the distinction survives a marshal round trip
	b, err := json.Marshal(as)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Actions
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if !back[0].HasValue() || back[1].HasValue() || back[2].HasValue() {
		t.Fatalf("presence lost in round trip: %s", b)
	}

	// actions built in code always carry their value, empty or not
	if !(Action{Topic: "room/display"}).HasValue() {
		t.Fatal("zero-value Action should be publishable")
	}
}

func TestNormalizeFastForwardsPastTime(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tk := &Task{
		Type:    TypeOneTime,
		Actions: Actions{{Topic: "room/light", Value: "on"}},
		Time:    now.Add(-time.Hour).Unix(),
	}
	tk.Normalize(now, 60*time.Second)
	if got, want := tk.Time, now.Add(60*time.Second).Unix(); got != want {
		t.Fatalf("Time = %d, want %d", got, want)
	}
}

func TestNormalizeExtractsEmbeddedCondition(t *testing.T) {
	t.Parallel()
	tk := &Task{
		Type:    TypeTriggerBased,
		Actions: Actions{{Topic: "room/fan", Value: "on"}},
		Trigger: &Trigger{Topic: "room/temperature", Value: ">=25"},
	}
	tk.Normalize(time.Now(), 0)
	if tk.Condition != CondGE {
		t.Fatalf("Condition = %q, want %q", tk.Condition, CondGE)
	}
	if tk.Trigger.Value != "25" {
		t.Fatalf("Trigger.Value = %q, want %q", tk.Trigger.Value, "25")
	}
	if tk.Limit != UnlimitedLimit {
		t.Fatalf("Limit = %d, want sentinel %d", tk.Limit, UnlimitedLimit)
	}
}

func TestNormalizeKeepsExplicitCondition(t *testing.T) {
	t.Parallel()
	tk := &Task{
		Type:      TypeTriggerBased,
		Actions:   Actions{{Topic: "room/fan", Value: "on"}},
		Trigger:   &Trigger{Topic: "room/temperature", Value: "25"},
		Condition: CondGT,
		Limit:     3,
	}
	tk.Normalize(time.Now(), 0)
	if tk.Condition != CondGT || tk.Trigger.Value != "25" || tk.Limit != 3 {
		t.Fatalf("normalize changed explicit fields: %+v", tk)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	now := time.Now()
	valid := func() *Task {
		return &Task{
			Type:    TypeOneTime,
			Actions: Actions{{Topic: "room/light", Value: "on"}},
			Time:    now.Add(time.Hour).Unix(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Task)
		field  string
	}{
		{name: "unknown type", mutate: func(tk *Task) { tk.Type = "hourly" }, field: "taskType"},
		{name: "no actions", mutate: func(tk *Task) { tk.Actions = nil }, field: "action"},
		{name: "repetitive without repeatTime", mutate: func(tk *Task) { tk.Type = TypeRepetitive }, field: "repeatTime"},
		{name: "trigger without trigger", mutate: func(tk *Task) { tk.Type = TypeTriggerBased }, field: "trigger"},
		{name: "trigger missing value", mutate: func(tk *Task) {
			tk.Type = TypeTriggerBased
			tk.Trigger = &Trigger{Topic: "room/temperature"}
		}, field: "trigger"},
		{name: "unknown condition", mutate: func(tk *Task) {
			tk.Type = TypeTriggerBased
			tk.Trigger = &Trigger{Topic: "room/temperature", Value: "25"}
			tk.Condition = "like"
			tk.Limit = UnlimitedLimit
		}, field: "condition"},
		{name: "negative limit", mutate: func(tk *Task) {
			tk.Type = TypeTriggerBased
			tk.Trigger = &Trigger{Topic: "room/temperature", Value: "25"}
			tk.Condition = CondGT
			tk.Limit = -2
		}, field: "limit"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tk := valid()
			tt.mutate(tk)
			err := tk.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
}

func TestPatchApplyResetsCounterOnContractChange(t *testing.T) {
	t.Parallel()
	base := &Task{
		ID:            "t1",
		Type:          TypeTriggerBased,
		Actions:       Actions{{Topic: "room/fan", Value: "on"}},
		Trigger:       &Trigger{Topic: "room/temperature", Value: "25"},
		Condition:     CondGT,
		Limit:         5,
		ExecutedCount: 3,
	}

	newLimit := 10
	merged, changed := (&Patch{Limit: &newLimit}).Apply(base)
	if !changed || merged.ExecutedCount != 0 {
		t.Fatalf("limit change should reset counter: changed=%v count=%d", changed, merged.ExecutedCount)
	}

	merged, changed = (&Patch{Actions: Actions{{Topic: "room/light", Value: "off"}}}).Apply(base)
	if changed || merged.ExecutedCount != 3 {
		t.Fatalf("action-only patch should keep counter: changed=%v count=%d", changed, merged.ExecutedCount)
	}
	if base.Actions[0].Topic != "room/fan" {
		t.Fatal("patch mutated the original task")
	}
}

func TestPatchTriggerReextractsCondition(t *testing.T) {
	t.Parallel()
	base := &Task{
		ID:        "t1",
		Type:      TypeTriggerBased,
		Actions:   Actions{{Topic: "room/fan", Value: "on"}},
		Trigger:   &Trigger{Topic: "room/temperature", Value: "25"},
		Condition: CondGT,
		Limit:     UnlimitedLimit,
	}
	merged, _ := (&Patch{Trigger: &Trigger{Topic: "room/humidity", Value: "<=40"}}).Apply(base)
	merged.Normalize(time.Now(), 0)
	if merged.Condition != CondLE || merged.Trigger.Value != "40" {
		t.Fatalf("embedded condition not re-extracted: %q %q", merged.Condition, merged.Trigger.Value)
	}
}
