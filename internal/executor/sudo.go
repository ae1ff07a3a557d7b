package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/term"
)

// SudoPromptMarker is passed to `sudo -p` so the prompt can be recognised
// regardless of locale or sudo configuration.
const SudoPromptMarker = "[infco-sudo] password:"

// PasswordPrompt returns the sudo password.
type PasswordPrompt func() (string, error)

// DefaultPasswordPrompt reads the password from the terminal without echo.
func DefaultPasswordPrompt() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "enter sudo password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// runSudo runs command under `sudo -S`. Stderr is watched for the prompt
// marker for at most PromptTimeout; if it shows up the password is written
// once. Stdin is closed afterwards either way, so the command itself sees
// empty input.
func (l *Local) runSudo(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, l.opts.SudoBinary, "-S", "-p", SudoPromptMarker, l.opts.Shell, "-c", command)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("sudo stdin: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("sudo stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start sudo: %w", err)
	}

	watcher := newPromptWatcher(SudoPromptMarker)
	drained := make(chan struct{})
	go func() {
		_, _ = io.Copy(watcher, stderrPipe)
		close(drained)
	}()

	promptErr := l.answerPrompt(ctx, watcher, stdin, drained)
	<-drained
	waitErr := cmd.Wait()

	if promptErr != nil {
		return "", promptErr
	}
	if waitErr != nil {
		return "", wrapExecError(waitErr, command, stdout.Bytes(), watcher.Stderr())
	}
	return stdout.String(), nil
}

func (l *Local) answerPrompt(ctx context.Context, watcher *promptWatcher, stdin io.WriteCloser, drained <-chan struct{}) error {
	defer stdin.Close()

	timer := time.NewTimer(l.opts.PromptTimeout)
	defer timer.Stop()

	select {
	case <-watcher.Seen():
	case <-timer.C:
		l.logger.Debug().Msg("no sudo prompt before timeout")
		return nil
	case <-drained:
		return nil
	case <-ctx.Done():
		return nil
	}

	password, err := l.opts.PasswordPrompt()
	if err != nil {
		return fmt.Errorf("sudo password prompt: %w", err)
	}
	if _, err := io.WriteString(stdin, password+"\n"); err != nil {
		return fmt.Errorf("write sudo password: %w", err)
	}
	return nil
}

// promptWatcher collects stderr and signals the first time the marker is
// seen.
type promptWatcher struct {
	marker []byte
	seen   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	buf bytes.Buffer
}

func newPromptWatcher(marker string) *promptWatcher {
	return &promptWatcher{marker: []byte(marker), seen: make(chan struct{})}
}

func (w *promptWatcher) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if bytes.Contains(w.buf.Bytes(), w.marker) {
		w.once.Do(func() { close(w.seen) })
	}
	return len(p), nil
}

// Seen is closed once the marker appeared.
func (w *promptWatcher) Seen() <-chan struct{} {
	return w.seen
}

// Stderr returns everything written with the marker removed.
func (w *promptWatcher) Stderr() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.ReplaceAll(w.buf.Bytes(), w.marker, nil)
}
