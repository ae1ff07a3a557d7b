package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/tOgg1/infco/internal/logging"

	xssh "golang.org/x/crypto/ssh"
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateVerified
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateVerified:
		return "verified"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is an authenticated SSH connection. A Session is not safe for
// concurrent use; callers confine it to one goroutine.
type Session struct {
	opts   ConnectionOptions
	addr   string
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	client *xssh.Client
	sftp   *sftp.Client
}

// Connect dials the server, verifies its host key against the pinned
// fingerprint and authenticates with public keys. Errors are *ConnectError
// before verification, *FingerprintMismatchError on a key mismatch, and
// *AuthError once the key was verified.
func Connect(ctx context.Context, opts ConnectionOptions) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		opts:  opts,
		addr:  opts.Address(),
		state: StateDisconnected,
	}
	s.logger = logging.Component("ssh").With().Str("addr", s.addr).Str("user", opts.User).Logger()

	keys := loadKeyring(opts, s.logger)
	defer keys.Close()
	signers := keys.signers

	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, &ConnectError{Addr: s.addr, Err: err}
	}
	s.state = StateConnected
	s.logger.Debug().Msg("tcp connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if opts.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	}

	check := &hostKeyCheck{host: opts.Host, expected: opts.Fingerprint}
	config := &xssh.ClientConfig{
		User: opts.User,
		Auth: []xssh.AuthMethod{
			// One callback carries every key: x/crypto tries each auth
			// method name only once.
			xssh.PublicKeysCallback(func() ([]xssh.Signer, error) { return signers, nil }),
		},
		HostKeyCallback: check.callback,
		Timeout:         opts.Timeout,
	}

	clientConn, chans, reqs, err := xssh.NewClientConn(conn, s.addr, config)
	verified, mismatch := check.result()
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		switch {
		case mismatch != nil:
			s.logger.Warn().Str("expected", mismatch.Expected).Str("actual", mismatch.Actual).Msg("host key mismatch")
			return nil, mismatch
		case verified:
			if len(signers) == 0 {
				err = fmt.Errorf("%w: %v", ErrNoAuthMethods, err)
			}
			return nil, &AuthError{User: opts.User, Addr: s.addr, Err: err}
		default:
			return nil, &ConnectError{Addr: s.addr, Err: err}
		}
	}
	_ = conn.SetDeadline(time.Time{})

	s.client = xssh.NewClient(clientConn, chans, reqs)
	s.state = StateAuthenticated
	s.logger.Debug().Int("keys", len(signers)).Int("skipped_keys", keys.skipped).Msg("authenticated")
	return s, nil
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the host:port the session is connected to.
func (s *Session) Addr() string {
	return s.addr
}

func (s *Session) authenticated() (*xssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated || s.client == nil {
		return nil, ErrNotAuthenticated
	}
	return s.client, nil
}

// RunCommand executes command on the remote host with empty stdin. On exit
// status zero it returns stdout. A non-zero exit returns *CommandError with
// the complete stderr; a missing exit status returns *ChannelError.
func (s *Session) RunCommand(command string) ([]byte, error) {
	client, err := s.authenticated()
	if err != nil {
		return nil, err
	}

	ch, err := openExecChannel(client)
	if err != nil {
		return nil, err
	}
	defer ch.Release()

	s.logger.Debug().Str("command", logging.RedactCommand(command)).Msg("exec")
	return ch.Exec(command)
}

// Close tears down the sftp sub-session and the connection. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	var firstErr error
	if s.sftp != nil {
		if err := s.sftp.Close(); err != nil {
			firstErr = err
		}
		s.sftp = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.client = nil
	}
	s.logger.Debug().Msg("session closed")
	return firstErr
}
