package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/runner"
)

// styledReporter prints runner progress with terminal styles.
type styledReporter struct {
	mu     sync.Mutex
	out    io.Writer
	styles styleSet
}

func newStyledReporter(out io.Writer, styles styleSet) *styledReporter {
	return &styledReporter{out: out, styles: styles}
}

func (r *styledReporter) HostRouted(host models.Host, matched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := runner.RouteLine(host, matched)
	if matched {
		line = r.styles.Accent.Render(line)
	} else {
		line = r.styles.Muted.Render(line)
	}
	fmt.Fprintln(r.out, line)
}

func (r *styledReporter) TaskFinished(host models.Host, result models.TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "  %s %s %s\n",
		r.statusStyle(result.Status).Render(fmt.Sprintf("%-7s", result.Status)),
		r.styles.Muted.Render(fmt.Sprintf("[%s #%d %s]", host.Title, result.Index, result.Type)),
		runner.TaskSummary(result))

	if result.Status == models.TaskStatusOK && strings.Contains(strings.TrimSpace(result.Output), "\n") {
		for _, line := range strings.Split(strings.TrimRight(result.Output, "\n"), "\n") {
			fmt.Fprintln(r.out, r.styles.Muted.Render("    | ")+line)
		}
	}
}

func (r *styledReporter) HostFinished(result *runner.HostResult) {
	if result.Err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "  "+r.styles.Failure.Render(result.Host.Title+" failed:")+" "+result.Err.Error())
}

func (r *styledReporter) statusStyle(status models.TaskStatus) lipgloss.Style {
	switch status {
	case models.TaskStatusOK:
		return r.styles.Success
	case models.TaskStatusFailed:
		return r.styles.Failure
	case models.TaskStatusSkipped:
		return r.styles.Warning
	default:
		return r.styles.Muted
	}
}
