package task

import (
	"errors"
	"fmt"
)

// ErrNotFound marks an operation referencing an unknown task id.
var ErrNotFound = errors.New("task not found")

// ValidationError reports a malformed or incomplete task definition. It is
// returned synchronously, before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s", e.Reason)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
