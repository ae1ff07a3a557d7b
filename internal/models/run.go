package models

import "time"

// RunStatus is the outcome of a process invocation.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// TaskStatus is the outcome of one task on one host.
type TaskStatus string

const (
	TaskStatusOK      TaskStatus = "ok"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusSkipped TaskStatus = "skipped" // an earlier task on the host failed
	TaskStatusPlanned TaskStatus = "planned" // dry run
)

// Run is one invocation of `infco process`.
type Run struct {
	ID        string    `json:"id"`
	HostsFile string    `json:"hosts_file"`
	TasksFile string    `json:"tasks_file"`
	DryRun    bool      `json:"dry_run"`
	Status    RunStatus `json:"status"`

	// HostsMatched and HostsFailed count hosts whose tags matched the task
	// file and, of those, hosts that stopped on an error.
	HostsMatched int `json:"hosts_matched"`
	HostsFailed  int `json:"hosts_failed"`

	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskResult records one task applied to one host.
type TaskResult struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Host      string        `json:"host"`
	Index     int           `json:"index"`
	Type      TaskType      `json:"type"`
	Status    TaskStatus    `json:"status"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
