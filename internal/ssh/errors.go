package ssh

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingHost         = errors.New("ssh host is required")
	ErrMissingUser         = errors.New("ssh user is required")
	ErrMissingFingerprint  = errors.New("server public key hash is required")
	ErrPassphraseRequired  = errors.New("passphrase required for private key")
	ErrSSHAgentUnavailable = errors.New("ssh agent not available")
	ErrNoAuthMethods       = errors.New("no usable public key")
	ErrNotAuthenticated    = errors.New("session is not authenticated")
	ErrChannelReleased     = errors.New("channel already released")
	ErrShortWrite          = errors.New("short write")
)

// ConnectError reports a failed TCP connect or key exchange.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// FingerprintMismatchError is returned when the server host key does not
// match the pinned fingerprint. Authentication is never attempted.
type FingerprintMismatchError struct {
	Host     string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("server public key hash did not match for %s; expected: %q; found: %q", e.Host, e.Expected, e.Actual)
}

// AuthError reports a failure after the host key was verified.
type AuthError struct {
	User string
	Addr string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication as %s on %s failed: %v", e.User, e.Addr, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ChannelError reports a failed channel operation (open, exec, forward,
// read, write).
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s failed: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// SftpError reports a failed SFTP operation on Path.
type SftpError struct {
	Op   string
	Path string
	Err  error
}

func (e *SftpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("sftp %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sftp %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *SftpError) Unwrap() error { return e.Err }

// CommandError wraps a command that exited non-zero. Stderr always holds the
// complete error stream.
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(string(e.Stderr))
	if stderr == "" {
		return fmt.Sprintf("command failed (exit=%d)", e.ExitCode)
	}
	return fmt.Sprintf("command failed (exit=%d): %s", e.ExitCode, stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }
