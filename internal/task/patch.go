package task

import "encoding/json"

// Patch is a partial task update. Pointer fields distinguish "absent" from
// an explicit zero; Actions uses nil for absent.
type Patch struct {
	Type       *Type      `json:"taskType,omitempty"`
	Actions    Actions    `json:"action,omitempty"`
	Time       *int64     `json:"time,omitempty"`
	RepeatTime *int64     `json:"repeatTime,omitempty"`
	Trigger    *Trigger   `json:"trigger,omitempty"`
	Condition  *Condition `json:"condition,omitempty"`
	Limit      *int       `json:"limit,omitempty"`
}

// DecodePatch strictly decodes a JSON body into a Patch.
func DecodePatch(b []byte) (*Patch, error) {
	var p Patch
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	return &p, nil
}

// Apply merges the patch into a copy of t and reports whether the trigger
// contract (topic, operand, condition, or limit) changed. A changed contract
// resets the execution counter: the old count belongs to the old trigger.
func (p *Patch) Apply(t *Task) (*Task, bool) {
	out := t.Clone()
	contractChanged := false
	if p.Type != nil && *p.Type != out.Type {
		out.Type = *p.Type
		contractChanged = true
	}
	if p.Actions != nil {
		out.Actions = append(Actions(nil), p.Actions...)
	}
	if p.Time != nil {
		out.Time = *p.Time
	}
	if p.RepeatTime != nil {
		out.RepeatTime = *p.RepeatTime
	}
	if p.Trigger != nil {
		if out.Trigger == nil || *out.Trigger != *p.Trigger {
			contractChanged = true
		}
		trg := *p.Trigger
		out.Trigger = &trg
		// Re-extract an embedded operator unless the patch also sets one.
		if p.Condition == nil {
			out.Condition = ""
		}
	}
	if p.Condition != nil {
		if *p.Condition != out.Condition {
			contractChanged = true
		}
		out.Condition = *p.Condition
	}
	if p.Limit != nil {
		if *p.Limit != out.Limit {
			contractChanged = true
		}
		out.Limit = *p.Limit
	}
	if contractChanged {
		out.ExecutedCount = 0
	}
	return out, contractChanged
}
