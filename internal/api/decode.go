package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/SshgurkiratSingh/IPD-24/internal/task"
)

const maxBodyBytes = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, &task.ValidationError{Field: "body", Reason: err.Error()}
	}
	if len(b) == 0 {
		return nil, &task.ValidationError{Field: "body", Reason: "empty request body"}
	}
	return b, nil
}

// decodeTask accepts the shapes the chat collaborator is known to produce:
// a bare task object, a one-element array (the first element is used), or
// the legacy {"scheduleTask": ...} wrapper.
func decodeTask(r *http.Request) (*task.Task, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		ScheduleTask json.RawMessage `json:"scheduleTask"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.ScheduleTask) > 0 {
		body = wrapper.ScheduleTask
	}

	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return nil, &task.ValidationError{Field: "body", Reason: "task array is empty"}
		}
		body = list[0]
	}

	var t task.Task
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, &task.ValidationError{Field: "body", Reason: err.Error()}
	}
	return &t, nil
}
