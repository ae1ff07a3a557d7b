// Package executor provides the backends tasks run against: the local
// machine, or a remote host whose SSH session is owned by a single worker
// goroutine behind a request queue.
package executor

import (
	"context"
	"errors"
	"io"

	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/ssh"
)

// ErrBackendClosed is returned for requests submitted after Close.
var ErrBackendClosed = errors.New("backend is closed")

// CommandError is the error for a command that exited non-zero, shared by
// both backends.
type CommandError = ssh.CommandError

// HTTPRequest is a single request sent through ForwardHTTP.
type HTTPRequest = ssh.HTTPRequest

// Executor is the capability every backend offers to tasks.
type Executor interface {
	// Run executes a shell command and returns its stdout. A non-zero exit
	// yields *CommandError carrying the full stderr.
	Run(ctx context.Context, command string) (string, error)

	// FileRead returns the full contents of path.
	FileRead(ctx context.Context, path string) ([]byte, error)

	// FileWrite replaces path with data.
	FileWrite(ctx context.Context, path string, data []byte) error
}

// Forwarder relays one HTTP request to a socket or host:port reachable from
// the backend and returns the response body.
type Forwarder interface {
	ForwardHTTP(ctx context.Context, target models.TunnelTarget, req HTTPRequest) (string, error)
}

// Backend is an Executor that can also forward HTTP and must be closed.
type Backend interface {
	Executor
	Forwarder
	io.Closer
}

var (
	_ Backend = (*Local)(nil)
	_ Backend = (*Remote)(nil)
)
