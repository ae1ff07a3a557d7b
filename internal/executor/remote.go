package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/infco/internal/logging"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/ssh"
)

// DefaultQueueSize is the number of requests that may wait for the worker.
const DefaultQueueSize = 100

// RemoteConfig tunes the remote backend.
type RemoteConfig struct {
	// QueueSize bounds pending requests; submitters block when it is full.
	QueueSize int
}

// protocol is what the worker needs from a connected session.
type protocol interface {
	RunCommand(command string) ([]byte, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ForwardHTTP(ctx context.Context, target models.TunnelTarget, req ssh.HTTPRequest) (string, error)
	Close() error
}

type dialFunc func(ctx context.Context) (protocol, error)

type opKind int

const (
	opExec opKind = iota
	opFileRead
	opFileWrite
	opForward
)

func (k opKind) String() string {
	switch k {
	case opExec:
		return "exec"
	case opFileRead:
		return "file_read"
	case opFileWrite:
		return "file_write"
	case opForward:
		return "forward"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

type request struct {
	id      string
	kind    opKind
	command string
	path    string
	data    []byte
	target  models.TunnelTarget
	http    HTTPRequest
	reply   chan reply
}

type reply struct {
	data []byte
	body string
	err  error
}

// Remote runs tasks on an SSH host. A single worker goroutine owns the
// session and serves queued requests one at a time in arrival order, so at
// most one protocol operation is ever in flight.
type Remote struct {
	queue  chan request
	done   chan struct{}
	logger zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// NewRemote connects to the host and starts the worker. It returns once the
// session is authenticated, or with the connection error.
func NewRemote(ctx context.Context, opts ssh.ConnectionOptions, cfg RemoteConfig) (*Remote, error) {
	dial := func(ctx context.Context) (protocol, error) {
		session, err := ssh.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	return newRemote(ctx, opts.Host, dial, cfg)
}

func newRemote(ctx context.Context, host string, dial dialFunc, cfg RemoteConfig) (*Remote, error) {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	r := &Remote{
		queue:  make(chan request, size),
		done:   make(chan struct{}),
		logger: logging.Component("remote").With().Str("host", host).Logger(),
	}

	ready := make(chan error, 1)
	go r.run(ctx, dial, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Remote) run(ctx context.Context, dial dialFunc, ready chan<- error) {
	defer close(r.done)

	session, err := dial(ctx)
	ready <- err
	if err != nil {
		return
	}

	r.logger.Debug().Msg("worker started")
	for req := range r.queue {
		req.reply <- r.serve(session, req)
	}

	r.closeErr = session.Close()
	r.logger.Debug().Msg("worker stopped")
}

func (r *Remote) serve(session protocol, req request) reply {
	log := r.logger.With().Str("request_id", req.id).Str("op", req.kind.String()).Logger()
	log.Debug().Msg("serving request")

	var rep reply
	switch req.kind {
	case opExec:
		rep.data, rep.err = session.RunCommand(req.command)
	case opFileRead:
		rep.data, rep.err = session.ReadFile(req.path)
	case opFileWrite:
		rep.err = session.WriteFile(req.path, req.data)
	case opForward:
		rep.body, rep.err = session.ForwardHTTP(context.Background(), req.target, req.http)
	default:
		rep.err = fmt.Errorf("unknown request kind %s", req.kind)
	}

	if rep.err != nil {
		log.Debug().Err(rep.err).Msg("request failed")
	}
	return rep
}

// submit enqueues req and waits for its reply. Abandoning the wait through
// ctx does not cancel the request; the worker still runs it.
func (r *Remote) submit(ctx context.Context, req request) (reply, error) {
	req.id = uuid.New().String()
	req.reply = make(chan reply, 1)

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return reply{}, ErrBackendClosed
	}
	select {
	case r.queue <- req:
	case <-ctx.Done():
		r.mu.RUnlock()
		return reply{}, ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case rep := <-req.reply:
		return rep, rep.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Run executes command on the host and returns its stdout.
func (r *Remote) Run(ctx context.Context, command string) (string, error) {
	rep, err := r.submit(ctx, request{kind: opExec, command: command})
	if err != nil {
		return "", err
	}
	return string(rep.data), nil
}

// FileRead returns the contents of a remote file.
func (r *Remote) FileRead(ctx context.Context, path string) ([]byte, error) {
	rep, err := r.submit(ctx, request{kind: opFileRead, path: path})
	if err != nil {
		return nil, err
	}
	return rep.data, nil
}

// FileWrite replaces a remote file.
func (r *Remote) FileWrite(ctx context.Context, path string, data []byte) error {
	_, err := r.submit(ctx, request{kind: opFileWrite, path: path, data: data})
	return err
}

// ForwardHTTP relays one HTTP request through a tunnel opened from the host.
func (r *Remote) ForwardHTTP(ctx context.Context, target models.TunnelTarget, req HTTPRequest) (string, error) {
	rep, err := r.submit(ctx, request{kind: opForward, target: target, http: req})
	if err != nil {
		return "", err
	}
	return rep.body, nil
}

// Close stops accepting requests, lets the worker finish everything already
// queued and closes the session. It is safe to call more than once.
func (r *Remote) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
	return r.closeErr
}
