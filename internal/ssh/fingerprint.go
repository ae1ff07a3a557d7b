package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

// Fingerprint returns the SHA-256 fingerprint of a host key in the OpenSSH
// format: "SHA256:" followed by unpadded base64.
func Fingerprint(key xssh.PublicKey) string {
	return xssh.FingerprintSHA256(key)
}

// VerifyFingerprint compares the key's fingerprint with expected byte for
// byte. An empty expectation never matches.
func VerifyFingerprint(host string, key xssh.PublicKey, expected string) error {
	actual := Fingerprint(key)
	if expected == "" || actual != expected {
		return &FingerprintMismatchError{Host: host, Expected: expected, Actual: actual}
	}
	return nil
}

// hostKeyCheck pins the server key and records the outcome so the caller
// can tell a verification failure from a later authentication failure.
type hostKeyCheck struct {
	host     string
	expected string

	mu       sync.Mutex
	verified bool
	mismatch *FingerprintMismatchError
}

func (c *hostKeyCheck) callback(_ string, _ net.Addr, key xssh.PublicKey) error {
	err := VerifyFingerprint(c.host, key, c.expected)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.mismatch = err.(*FingerprintMismatchError)
		return err
	}
	c.verified = true
	return nil
}

func (c *hostKeyCheck) result() (bool, *FingerprintMismatchError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified, c.mismatch
}

var errFingerprintCaptured = errors.New("host key captured")

// FetchFingerprint connects to the server, captures its host key and aborts
// the handshake before authentication. The result is formatted exactly as
// connection verification formats it.
func FetchFingerprint(ctx context.Context, host string, port int, user string, timeout time.Duration) (string, error) {
	opts := ConnectionOptions{Host: host, Port: port, User: user, Timeout: timeout}
	if host == "" {
		return "", ErrMissingHost
	}
	addr := opts.Address()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &ConnectError{Addr: addr, Err: err}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	var (
		mu       sync.Mutex
		captured string
	)
	config := &xssh.ClientConfig{
		User: user,
		HostKeyCallback: func(_ string, _ net.Addr, key xssh.PublicKey) error {
			mu.Lock()
			captured = Fingerprint(key)
			mu.Unlock()
			return errFingerprintCaptured
		},
		Timeout: timeout,
	}

	_, _, _, err = xssh.NewClientConn(conn, addr, config)

	mu.Lock()
	defer mu.Unlock()
	if captured != "" {
		return captured, nil
	}
	if err == nil {
		err = errors.New("server did not present a host key")
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return "", &ConnectError{Addr: addr, Err: fmt.Errorf("key exchange: %w", err)}
}
