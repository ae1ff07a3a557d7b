package runner

import (
	"fmt"

	"github.com/tOgg1/infco/internal/models"
)

// HostError is a failure that stopped a host before any task ran, such as a
// connection or fingerprint error.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// TaskError is the failure that stopped a host's task list.
type TaskError struct {
	Host  string
	Index int
	Type  models.TaskType
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("host %s: task %d (%s): %v", e.Host, e.Index, e.Type, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
