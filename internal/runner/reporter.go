package runner

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tOgg1/infco/internal/models"
)

// Reporter receives progress as hosts are routed and tasks finish. Calls may
// come from several goroutines when hosts run in parallel.
type Reporter interface {
	HostRouted(host models.Host, matched bool)
	TaskFinished(host models.Host, result models.TaskResult)
	HostFinished(result *HostResult)
}

// TextReporter writes plain progress lines.
type TextReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTextReporter creates a reporter writing to out.
func NewTextReporter(out io.Writer) *TextReporter {
	return &TextReporter{out: out}
}

func (r *TextReporter) HostRouted(host models.Host, matched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, RouteLine(host, matched))
}

func (r *TextReporter) TaskFinished(host models.Host, result models.TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "  %s: %s [%d %s] %s\n", host.Title, result.Status, result.Index, result.Type, TaskSummary(result))
}

func (r *TextReporter) HostFinished(result *HostResult) {
	if result.Err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "  %s failed: %v\n", result.Host.Title, result.Err)
}

// RouteLine is the routing decision line printed for every host.
func RouteLine(host models.Host, matched bool) string {
	if matched {
		return "processing " + host.Title
	}
	return "skipping " + host.Title
}

// TaskSummary condenses a result's output or error to one line.
func TaskSummary(result models.TaskResult) string {
	text := result.Output
	if result.Error != "" {
		text = result.Error
	}
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i] + " ..."
	}
	return text
}
