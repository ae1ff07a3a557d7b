// Package runner routes tasks to hosts by tag and applies them through each
// host's backend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/infco/internal/executor"
	"github.com/tOgg1/infco/internal/inventory"
	"github.com/tOgg1/infco/internal/logging"
	"github.com/tOgg1/infco/internal/models"
	"golang.org/x/sync/errgroup"
)

// BackendFactory builds the backend for a host.
type BackendFactory func(ctx context.Context, host models.Host) (executor.Backend, error)

// Recorder persists run history. *db.HistoryRepository implements it.
type Recorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
	AddTaskResult(ctx context.Context, result *models.TaskResult) error
	FinishRun(ctx context.Context, run *models.Run) error
}

// Options configures a Runner.
type Options struct {
	// NewBackend connects to hosts. Required unless DryRun is set.
	NewBackend BackendFactory

	// Parallelism is how many hosts run at once (default 1).
	Parallelism int

	// DryRun reports routing and planned tasks without connecting.
	DryRun bool

	// Reporter receives progress. Nil discards it.
	Reporter Reporter

	// History records the run when set.
	History Recorder

	// HostsFile and TasksFile label the run in history.
	HostsFile string
	TasksFile string
}

// HostResult is the outcome for one host.
type HostResult struct {
	Host    models.Host
	Matched bool
	Tasks   []models.TaskResult
	Err     error
}

// Report is the outcome of a Process call.
type Report struct {
	Run   models.Run
	Hosts []*HostResult
}

// Failed returns the hosts that stopped on an error.
func (r *Report) Failed() []*HostResult {
	var failed []*HostResult
	for _, host := range r.Hosts {
		if host.Err != nil {
			failed = append(failed, host)
		}
	}
	return failed
}

// Runner applies a task file to a host inventory.
type Runner struct {
	opts   Options
	logger zerolog.Logger

	historyMu sync.Mutex
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Reporter == nil {
		opts.Reporter = discardReporter{}
	}
	return &Runner{opts: opts, logger: logging.Component("runner")}
}

// Process routes every host by tag intersection with the task file and runs
// the task list, in order, on each matching host. A failing task stops its
// host's remaining tasks; other hosts carry on. The returned error joins the
// per-host failures.
func (r *Runner) Process(ctx context.Context, hosts []models.Host, tasks *inventory.TaskFile) (*Report, error) {
	if !r.opts.DryRun && r.opts.NewBackend == nil {
		return nil, fmt.Errorf("runner: backend factory is required")
	}

	report := &Report{
		Run: models.Run{
			HostsFile: r.opts.HostsFile,
			TasksFile: r.opts.TasksFile,
			DryRun:    r.opts.DryRun,
			Status:    models.RunStatusRunning,
			StartedAt: time.Now().UTC(),
		},
		Hosts: make([]*HostResult, 0, len(hosts)),
	}
	r.recordRun(ctx, &report.Run)

	group := new(errgroup.Group)
	group.SetLimit(r.opts.Parallelism)

	for _, host := range hosts {
		result := &HostResult{Host: host, Matched: TagsIntersect(tasks.Tags, host.Tags)}
		report.Hosts = append(report.Hosts, result)
		r.opts.Reporter.HostRouted(host, result.Matched)
		if !result.Matched {
			r.logger.Debug().Str("host", host.Title).Msg("skipping host")
			continue
		}

		group.Go(func() error {
			r.processHost(ctx, report.Run.ID, result, tasks.Tasks)
			r.opts.Reporter.HostFinished(result)
			return nil
		})
	}
	_ = group.Wait()

	var errs []error
	for _, result := range report.Hosts {
		if result.Matched {
			report.Run.HostsMatched++
		}
		if result.Err != nil {
			report.Run.HostsFailed++
			errs = append(errs, result.Err)
		}
	}
	err := errors.Join(errs...)

	report.Run.Status = models.RunStatusSucceeded
	if err != nil {
		report.Run.Status = models.RunStatusFailed
		report.Run.Error = err.Error()
	}
	finished := time.Now().UTC()
	report.Run.FinishedAt = &finished
	r.finishRun(ctx, &report.Run)

	return report, err
}

func (r *Runner) processHost(ctx context.Context, runID string, result *HostResult, tasks []models.Task) {
	host := result.Host
	logger := logging.WithHost(host.Title)
	logger.Info().Int("tasks", len(tasks)).Bool("dry_run", r.opts.DryRun).Msg("processing host")

	if r.opts.DryRun {
		for i, task := range tasks {
			r.finishTask(ctx, result, models.TaskResult{
				RunID:     runID,
				Host:      host.Title,
				Index:     i,
				Type:      task.Type,
				Status:    models.TaskStatusPlanned,
				StartedAt: time.Now().UTC(),
			})
		}
		return
	}

	backend, err := r.opts.NewBackend(ctx, host)
	if err != nil {
		logger.Error().Err(err).Msg("backend unavailable")
		result.Err = &HostError{Host: host.Title, Err: err}
		return
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing backend")
		}
	}()

	for i, task := range tasks {
		taskResult := models.TaskResult{
			RunID:     runID,
			Host:      host.Title,
			Index:     i,
			Type:      task.Type,
			StartedAt: time.Now().UTC(),
		}

		if result.Err != nil {
			taskResult.Status = models.TaskStatusSkipped
			r.finishTask(ctx, result, taskResult)
			continue
		}

		taskLogger := logging.WithTask(logger, i, string(task.Type))
		output, err := runTask(logging.WithContext(ctx, taskLogger), backend, task)
		taskResult.Duration = time.Since(taskResult.StartedAt)
		taskResult.Output = output
		if err != nil {
			taskResult.Status = models.TaskStatusFailed
			taskResult.Error = logging.Redact(err.Error())
			result.Err = &TaskError{Host: host.Title, Index: i, Type: task.Type, Err: err}
			taskLogger.Error().Err(err).Dur("duration", taskResult.Duration).Msg("task failed")
		} else {
			taskResult.Status = models.TaskStatusOK
			taskLogger.Info().Dur("duration", taskResult.Duration).Msg("task finished")
		}
		r.finishTask(ctx, result, taskResult)
	}
}

func (r *Runner) finishTask(ctx context.Context, result *HostResult, taskResult models.TaskResult) {
	result.Tasks = append(result.Tasks, taskResult)
	r.opts.Reporter.TaskFinished(result.Host, taskResult)

	if r.opts.History == nil || taskResult.RunID == "" {
		return
	}
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	if err := r.opts.History.AddTaskResult(ctx, &taskResult); err != nil {
		r.logger.Warn().Err(err).Str("host", taskResult.Host).Int("task", taskResult.Index).Msg("recording task result")
	}
}

func (r *Runner) recordRun(ctx context.Context, run *models.Run) {
	if r.opts.History == nil {
		return
	}
	if err := r.opts.History.CreateRun(ctx, run); err != nil {
		r.logger.Warn().Err(err).Msg("recording run")
		run.ID = ""
	}
}

func (r *Runner) finishRun(ctx context.Context, run *models.Run) {
	if r.opts.History == nil || run.ID == "" {
		return
	}
	if err := r.opts.History.FinishRun(ctx, run); err != nil {
		r.logger.Warn().Err(err).Msg("recording run result")
	}
}

type discardReporter struct{}

func (discardReporter) HostRouted(models.Host, bool)                {}
func (discardReporter) TaskFinished(models.Host, models.TaskResult) {}
func (discardReporter) HostFinished(*HostResult)                    {}
