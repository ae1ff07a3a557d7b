package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/infco/internal/db"
	"github.com/tOgg1/infco/internal/executor"
	"github.com/tOgg1/infco/internal/inventory"
	"github.com/tOgg1/infco/internal/logging"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/runner"
)

var (
	processHosts     string
	processTasks     string
	processDryRun    bool
	processParallel  int
	processNoHistory bool
)

func init() {
	rootCmd.AddCommand(processCmd)

	// -h stays with cobra's help flag.
	processCmd.Flags().StringVarP(&processHosts, "hosts", "H", "", "host file (JSON, or YAML by extension)")
	processCmd.Flags().StringVarP(&processTasks, "tasks", "t", "", "task file (JSON, or YAML by extension)")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "print routing and planned tasks without connecting")
	processCmd.Flags().IntVarP(&processParallel, "parallel", "p", 0, "hosts to process at once (default from config)")
	processCmd.Flags().BoolVar(&processNoHistory, "no-history", false, "do not record this run in the history database")
	_ = processCmd.MarkFlagRequired("hosts")
	_ = processCmd.MarkFlagRequired("tasks")
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a combination of task and host files",
	Long: `Apply the tasks in a task file to every host in a host file whose tags
intersect the task file's tags. Tasks run in order; the first failing task
stops that host.`,
	Example: `  infco process -H hosts.json -t tasks.json
  infco process -H hosts.yaml -t deploy.yaml --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg := GetConfig()

		hosts, err := inventory.LoadHosts(processHosts)
		if err != nil {
			return err
		}
		tasks, err := inventory.LoadTasks(processTasks)
		if err != nil {
			return err
		}

		parallelism := cfg.Runner.Parallelism
		if processParallel > 0 {
			parallelism = processParallel
		}
		dryRun := processDryRun || cfg.Runner.DryRun

		backendOpts := executor.OptionsFromConfig(cfg)
		opts := runner.Options{
			NewBackend: func(ctx context.Context, host models.Host) (executor.Backend, error) {
				return executor.NewBackend(ctx, host, backendOpts)
			},
			Parallelism: parallelism,
			DryRun:      dryRun,
			HostsFile:   processHosts,
			TasksFile:   processTasks,
		}
		if !IsJSONOutput() {
			opts.Reporter = newStyledReporter(cmd.OutOrStdout(), newStyleSet(useColor()))
		}

		if cfg.History.Enabled && !processNoHistory {
			database, err := openHistory(ctx, cfg)
			if err != nil {
				logger := logging.Component("cli")
				logger.Warn().Err(err).Msg("run history disabled")
			} else {
				defer database.Close()
				opts.History = db.NewHistoryRepository(database)
			}
		}

		report, runErr := runner.New(opts).Process(ctx, hosts.Hosts, tasks)
		if report == nil {
			return runErr
		}

		if IsJSONOutput() {
			if err := WriteOutput(cmd.OutOrStdout(), processSummary(report)); err != nil {
				return err
			}
		}

		if runErr != nil {
			return fmt.Errorf("%d of %d processed host(s) failed", report.Run.HostsFailed, report.Run.HostsMatched)
		}
		return nil
	},
}

type hostSummary struct {
	Title   string              `json:"title"`
	Matched bool                `json:"matched"`
	Error   string              `json:"error,omitempty"`
	Tasks   []models.TaskResult `json:"tasks,omitempty"`
}

type runSummary struct {
	RunID    string        `json:"run_id,omitempty"`
	Status   string        `json:"status"`
	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration_ns"`
	Hosts    []hostSummary `json:"hosts"`
}

func processSummary(report *runner.Report) runSummary {
	summary := runSummary{
		RunID:    report.Run.ID,
		Status:   string(report.Run.Status),
		DryRun:   report.Run.DryRun,
		Duration: report.Run.Duration(),
		Hosts:    make([]hostSummary, 0, len(report.Hosts)),
	}
	for _, host := range report.Hosts {
		entry := hostSummary{Title: host.Host.Title, Matched: host.Matched, Tasks: host.Tasks}
		if host.Err != nil {
			entry.Error = host.Err.Error()
		}
		summary.Hosts = append(summary.Hosts, entry)
	}
	return summary
}
