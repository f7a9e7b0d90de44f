// Package task defines the persistent scheduling unit of the hub and the
// rules that normalize and validate incoming definitions.
//
// A Task is one of three kinds:
//
//   - one-time: fires once at an absolute instant
//   - repetitive: fires at an absolute instant, then every RepeatTime seconds
//   - trigger-based: fires when a bus message on Trigger.Topic satisfies
//     Condition against Trigger.Value
package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Type is the closed set of task kinds. It is fixed at creation and only
// changes through a full update (which re-validates and re-arms the task).
type Type string

const (
	TypeOneTime      Type = "one-time"
	TypeRepetitive   Type = "repetitive"
	TypeTriggerBased Type = "trigger-based"
)

func (t Type) Valid() bool {
	switch t {
	case TypeOneTime, TypeRepetitive, TypeTriggerBased:
		return true
	}
	return false
}

// UnlimitedLimit is the reserved sentinel meaning "no execution limit" for
// trigger-based tasks. The value is part of the persisted format; do not
// change it without a migration.
const UnlimitedLimit = 696969

// DefaultGrace is how far a not-in-the-future fire time is pushed forward
// instead of being rejected. Tolerates clock skew between the caller and the
// hub; configurable via engine config.
const DefaultGrace = 60 * time.Second

// Action is a single publish instruction: when the task fires, Value is
// published to Topic. The wire field is "mqttTopic" for compatibility with
// the dashboard and chat collaborators.
type Action struct {
	Topic string `json:"mqttTopic"`
	Value string `json:"value"`

	// noValue marks a JSON null or absent value. An explicit "" is a real
	// payload (it clears a retained topic); only missing values are skipped
	// at execution time.
	noValue bool
}

// HasValue reports whether the action carries a publishable payload.
func (a Action) HasValue() bool { return !a.noValue }

// MarshalJSON omits the value field entirely when none was provided, so the
// absent/empty distinction survives a store round trip.
func (a Action) MarshalJSON() ([]byte, error) {
	type wire struct {
		Topic string  `json:"mqttTopic"`
		Value *string `json:"value,omitempty"`
	}
	w := wire{Topic: a.Topic}
	if !a.noValue {
		w.Value = &a.Value
	}
	return json.Marshal(w)
}

// UnmarshalJSON coerces numeric and boolean values to their string form, so
// callers may send {"value": 25} or {"value": "25"} interchangeably.
func (a *Action) UnmarshalJSON(b []byte) error {
	var raw struct {
		Topic string          `json:"mqttTopic"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Topic = raw.Topic
	a.Value = ""
	a.noValue = false
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		a.noValue = true
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Value, &s); err == nil {
		a.Value = s
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw.Value, &f); err == nil {
		a.Value = strconv.FormatFloat(f, 'f', -1, 64)
		return nil
	}
	var v bool
	if err := json.Unmarshal(raw.Value, &v); err == nil {
		a.Value = strconv.FormatBool(v)
		return nil
	}
	return fmt.Errorf("action value must be a string, number or bool, got %s", raw.Value)
}

// Actions always decodes to a sequence: a single action object is wrapped
// into a one-element slice.
type Actions []Action

func (as *Actions) UnmarshalJSON(b []byte) error {
	var list []Action
	if err := json.Unmarshal(b, &list); err == nil {
		*as = list
		return nil
	}
	var one Action
	if err := json.Unmarshal(b, &one); err != nil {
		return fmt.Errorf("action must be an object or a list of objects: %w", err)
	}
	*as = Actions{one}
	return nil
}

// Trigger names the topic to watch and the operand to compare inbound
// payloads against. Value may carry an embedded operator prefix (">=25");
// Normalize extracts it into Condition.
type Trigger struct {
	Topic string `json:"topic"`
	Value string `json:"value"`
}

// Task is the persistent unit of scheduling. Time and RepeatTime are unix
// seconds and a duration in seconds respectively; both are converted to the
// scheduler's internal units at arm time.
type Task struct {
	ID            string    `json:"id"`
	Type          Type      `json:"taskType"`
	Actions       Actions   `json:"action"`
	Time          int64     `json:"time,omitempty"`
	RepeatTime    int64     `json:"repeatTime,omitempty"`
	Trigger       *Trigger  `json:"trigger,omitempty"`
	Condition     Condition `json:"condition,omitempty"`
	Limit         int       `json:"limit,omitempty"`
	ExecutedCount int       `json:"executedCount"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// Execution is one append-only history row, written after a confirmed
// successful firing. Rows are only removed in bulk when the parent task is
// deleted or by retention pruning.
type Execution struct {
	TaskID     string    `json:"taskId"`
	ExecutedAt time.Time `json:"executedAt"`
}

// TimeBased reports whether the task is driven by the scheduler rather than
// by bus messages.
func (t *Task) TimeBased() bool {
	return t.Type == TypeOneTime || t.Type == TypeRepetitive
}

// Unlimited reports whether the task has no firing limit.
func (t *Task) Unlimited() bool { return t.Limit == UnlimitedLimit }

// FireAt returns Time as an instant.
func (t *Task) FireAt() time.Time { return time.Unix(t.Time, 0) }

// Repeat returns RepeatTime as a duration.
func (t *Task) Repeat() time.Duration { return time.Duration(t.RepeatTime) * time.Second }

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	if t.Trigger != nil {
		trg := *t.Trigger
		c.Trigger = &trg
	}
	c.Actions = append(Actions(nil), t.Actions...)
	return &c
}

// Normalize applies the accept-time coercions, in order:
//
//   - a time-based task whose fire time is not strictly in the future is
//     fast-forwarded to now+grace (policy, not correctness: tolerates the
//     clock/validation race instead of rejecting)
//   - a trigger-based task without an explicit condition has the operator
//     extracted from the trigger value prefix (">=25" -> ">=", "25"),
//     defaulting to "="
//   - a trigger-based task without a limit gets the unlimited sentinel
//
// Normalize does not validate; call Validate afterwards.
func (t *Task) Normalize(now time.Time, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if t.TimeBased() && t.Time <= now.Unix() {
		t.Time = now.Add(grace).Unix()
	}
	if t.Type == TypeTriggerBased && t.Trigger != nil {
		if t.Condition == "" {
			cond, operand := ParseConditionPrefix(t.Trigger.Value)
			t.Condition = cond
			t.Trigger.Value = operand
		}
		if t.Limit == 0 {
			t.Limit = UnlimitedLimit
		}
	}
}

// Validate checks a normalized task. It reports the first problem found as a
// *ValidationError.
func (t *Task) Validate() error {
	if !t.Type.Valid() {
		return &ValidationError{Field: "taskType", Reason: fmt.Sprintf("invalid taskType %q", t.Type)}
	}
	if len(t.Actions) == 0 {
		return &ValidationError{Field: "action", Reason: "action is required"}
	}
	switch t.Type {
	case TypeOneTime:
		if t.Time <= 0 {
			return &ValidationError{Field: "time", Reason: "time is required for one-time tasks"}
		}
	case TypeRepetitive:
		if t.Time <= 0 {
			return &ValidationError{Field: "time", Reason: "time is required for repetitive tasks"}
		}
		if t.RepeatTime <= 0 {
			return &ValidationError{Field: "repeatTime", Reason: "repeatTime is required for repetitive tasks"}
		}
	case TypeTriggerBased:
		if t.Trigger == nil {
			return &ValidationError{Field: "trigger", Reason: "trigger is required for trigger-based tasks"}
		}
		if t.Trigger.Topic == "" || t.Trigger.Value == "" {
			return &ValidationError{Field: "trigger", Reason: "trigger must include both topic and value"}
		}
		if !t.Condition.Valid() {
			return &ValidationError{Field: "condition", Reason: fmt.Sprintf("invalid condition %q", t.Condition)}
		}
		if t.Limit <= 0 && t.Limit != UnlimitedLimit {
			return &ValidationError{Field: "limit", Reason: fmt.Sprintf("limit must be a positive number or %d for unlimited executions", UnlimitedLimit)}
		}
	}
	return nil
}
