// Package ssh manages SSH sessions to remote hosts: connecting with a pinned
// host key fingerprint, public key authentication, one-shot command
// execution, whole-file SFTP transfers, and single HTTP requests relayed over
// forwarded channels.
package ssh

import (
	"net"
	"strconv"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

// DefaultPort is used when ConnectionOptions.Port is unset.
const DefaultPort = 22

// ConnectionOptions configures how an SSH session is established.
type ConnectionOptions struct {
	// Host is the target host name or IP.
	Host string

	// Port is the SSH port (defaults to 22 when unset).
	Port int

	// User is the SSH username.
	User string

	// Fingerprint is the expected "SHA256:..." host key fingerprint.
	// Connections are refused unless the server key matches exactly.
	Fingerprint string

	// KeyPath is an optional private key tried after the agent.
	KeyPath string

	// UseAgent enables keys from the agent at SSH_AUTH_SOCK.
	UseAgent bool

	// IdentityFiles overrides the default identity files. A nil slice means
	// DefaultIdentityFiles; an empty slice disables them.
	IdentityFiles []string

	// Signers are extra in-memory keys, tried last.
	Signers []xssh.Signer

	// PassphrasePrompt unlocks encrypted key files. Nil skips encrypted keys.
	PassphrasePrompt PassphrasePrompt

	// Timeout controls how long to wait when establishing connections.
	Timeout time.Duration
}

// Validate checks the options required to connect.
func (o ConnectionOptions) Validate() error {
	if o.Host == "" {
		return ErrMissingHost
	}
	if o.User == "" {
		return ErrMissingUser
	}
	if o.Fingerprint == "" {
		return ErrMissingFingerprint
	}
	return nil
}

// Address returns host:port, applying the default port.
func (o ConnectionOptions) Address() string {
	port := o.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}
