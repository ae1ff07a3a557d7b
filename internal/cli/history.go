package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/infco/internal/db"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/runner"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent runs",
	Long:  "List recent process runs, or the task results of one run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		database, err := openHistory(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewHistoryRepository(database)

		if len(args) == 1 {
			return showRun(ctx, cmd, repo, args[0])
		}
		return listRuns(ctx, cmd, repo)
	},
}

func listRuns(ctx context.Context, cmd *cobra.Command, repo *db.HistoryRepository) error {
	runs, err := repo.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return WriteOutput(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return err
	}

	styles := newStyleSet(useColor())
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runStatus(styles, run),
			fmt.Sprintf("%d/%d", run.HostsMatched-run.HostsFailed, run.HostsMatched),
			formatDuration(run.Duration()),
			run.TasksFile,
		})
	}
	return writeTable(cmd.OutOrStdout(), []string{"RUN", "STARTED", "STATUS", "HOSTS OK", "DURATION", "TASKS"}, rows)
}

func showRun(ctx context.Context, cmd *cobra.Command, repo *db.HistoryRepository, id string) error {
	run, err := repo.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	results, err := repo.ListTaskResults(ctx, run.ID)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		return WriteOutput(cmd.OutOrStdout(), map[string]any{"run": run, "tasks": results})
	}

	styles := newStyleSet(useColor())
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s  %s  hosts %s  tasks %s\n", run.ID, runStatus(styles, run), run.HostsFile, run.TasksFile)
	if run.Error != "" {
		fmt.Fprintln(out, styles.Failure.Render(run.Error))
	}

	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			result.Host,
			strconv.Itoa(result.Index),
			string(result.Type),
			string(result.Status),
			formatDuration(result.Duration),
			runner.TaskSummary(*result),
		})
	}
	return writeTable(out, []string{"HOST", "#", "TYPE", "STATUS", "DURATION", "OUTPUT"}, rows)
}

func runStatus(styles styleSet, run *models.Run) string {
	status := string(run.Status)
	if run.DryRun {
		status += " (dry run)"
	}
	switch run.Status {
	case models.RunStatusSucceeded:
		return styles.Success.Render(status)
	case models.RunStatusFailed:
		return styles.Failure.Render(status)
	default:
		return styles.Warning.Render(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
