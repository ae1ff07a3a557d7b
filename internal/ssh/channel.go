package ssh

import (
	"bytes"
	"errors"
	"io"
	"sync"

	xssh "golang.org/x/crypto/ssh"
)

const readChunkSize = 4096

// Channel is a forwarding channel. Release is idempotent and every method
// fails with ErrChannelReleased afterwards.
type Channel struct {
	ch       xssh.Channel
	once     sync.Once
	mu       sync.Mutex
	released bool
}

func newChannel(ch xssh.Channel, reqs <-chan *xssh.Request) *Channel {
	go xssh.DiscardRequests(reqs)
	return &Channel{ch: ch}
}

func (c *Channel) live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return &ChannelError{Op: "use", Err: ErrChannelReleased}
	}
	return nil
}

// Write sends p. Writing fewer bytes than len(p) is an error and is not
// retried.
func (c *Channel) Write(p []byte) (int, error) {
	if err := c.live(); err != nil {
		return 0, err
	}
	n, err := c.ch.Write(p)
	if err != nil {
		return n, &ChannelError{Op: "write", Err: err}
	}
	if n != len(p) {
		return n, &ChannelError{Op: "write", Err: ErrShortWrite}
	}
	return n, nil
}

// ReadAll reads until the peer sends EOF.
func (c *Channel) ReadAll() ([]byte, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return readToEOF(c.ch)
}

// CloseWrite sends EOF to the peer.
func (c *Channel) CloseWrite() error {
	if err := c.live(); err != nil {
		return err
	}
	if err := c.ch.CloseWrite(); err != nil {
		return &ChannelError{Op: "eof", Err: err}
	}
	return nil
}

// Release closes the channel. Later calls are no-ops.
func (c *Channel) Release() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.released = true
		c.mu.Unlock()
		if closeErr := c.ch.Close(); closeErr != nil && !errors.Is(closeErr, io.EOF) {
			err = &ChannelError{Op: "close", Err: closeErr}
		}
	})
	return err
}

func readToEOF(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), &ChannelError{Op: "read", Err: err}
		}
	}
}

// execChannel is a session channel running one command.
type execChannel struct {
	session *xssh.Session
	once    sync.Once
}

func openExecChannel(client *xssh.Client) (*execChannel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err}
	}
	return &execChannel{session: session}, nil
}

// Exec runs command to completion. Stdin is empty, so the remote side sees
// EOF immediately. Stdout and stderr are captured separately.
func (c *execChannel) Exec(command string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	c.session.Stdout = &stdout
	c.session.Stderr = &stderr

	err := c.session.Run(command)
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		return nil, &CommandError{
			Command:  command,
			ExitCode: exitErr.ExitStatus(),
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Err:      err,
		}
	}
	return nil, &ChannelError{Op: "exec", Err: err}
}

// Release closes the session channel. Later calls are no-ops.
func (c *execChannel) Release() error {
	var err error
	c.once.Do(func() {
		if closeErr := c.session.Close(); closeErr != nil && !errors.Is(closeErr, io.EOF) {
			err = &ChannelError{Op: "close", Err: closeErr}
		}
	})
	return err
}
