package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/infco/internal/logging"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/ssh"
)

const (
	defaultShell         = "bash"
	defaultSudoBinary    = "sudo"
	defaultPromptTimeout = 5 * time.Second
	localFileMode        = 0o644
)

// LocalOptions configures the local backend.
type LocalOptions struct {
	// Shell runs commands as `<shell> -c <command>` (default bash).
	Shell string

	// Sudo runs commands through `sudo -S`.
	Sudo bool

	// SudoBinary overrides the sudo executable.
	SudoBinary string

	// PromptTimeout bounds the wait for sudo's password prompt.
	PromptTimeout time.Duration

	// PasswordPrompt supplies the sudo password. Defaults to a masked
	// terminal prompt.
	PasswordPrompt PasswordPrompt
}

// Local runs tasks on this machine.
type Local struct {
	opts   LocalOptions
	logger zerolog.Logger
}

// NewLocal creates a local backend.
func NewLocal(opts LocalOptions) *Local {
	if opts.Shell == "" {
		opts.Shell = defaultShell
	}
	if opts.SudoBinary == "" {
		opts.SudoBinary = defaultSudoBinary
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = defaultPromptTimeout
	}
	if opts.PasswordPrompt == nil {
		opts.PasswordPrompt = DefaultPasswordPrompt
	}
	return &Local{
		opts:   opts,
		logger: logging.Component("local").With().Bool("sudo", opts.Sudo).Logger(),
	}
}

// Run executes command through the configured shell and returns stdout.
func (l *Local) Run(ctx context.Context, command string) (string, error) {
	l.logger.Debug().Str("command", logging.RedactCommand(command)).Msg("exec")
	if l.opts.Sudo {
		return l.runSudo(ctx, command)
	}

	cmd := exec.CommandContext(ctx, l.opts.Shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapExecError(err, command, stdout.Bytes(), stderr.Bytes())
	}
	return stdout.String(), nil
}

// FileRead returns the contents of a local file.
func (l *Local) FileRead(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// FileWrite replaces a local file, creating it with mode 0644.
func (l *Local) FileWrite(_ context.Context, path string, data []byte) error {
	if err := os.WriteFile(path, data, localFileMode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ForwardHTTP dials target directly and relays one request.
func (l *Local) ForwardHTTP(ctx context.Context, target models.TunnelTarget, req HTTPRequest) (string, error) {
	var dialer net.Dialer
	network, address := "tcp", net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	if target.IsSocket() {
		network, address = "unix", target.Socket
	}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	return ssh.RelayHTTP(ctx, ssh.ConnUpstream{Conn: conn}, req)
}

// Close is a no-op for the local backend.
func (l *Local) Close() error {
	return nil
}

func wrapExecError(err error, command string, stdout, stderr []byte) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      err,
		}
	}
	return fmt.Errorf("run command: %w", err)
}
