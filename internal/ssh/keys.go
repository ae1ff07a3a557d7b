package ssh

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"

	xssh "golang.org/x/crypto/ssh"
)

// PassphrasePrompt returns the passphrase for an encrypted key file.
type PassphrasePrompt func(keyPath string) (string, error)

// DefaultIdentityFiles returns the key files tried when none are configured,
// in order.
func DefaultIdentityFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	dir := filepath.Join(home, ".ssh")
	return []string{
		filepath.Join(dir, "id_ed25519"),
		filepath.Join(dir, "id_ecdsa"),
		filepath.Join(dir, "id_rsa"),
	}
}

// DefaultPassphrasePrompt asks on the terminal without echo. Without a
// terminal the key is treated as locked.
func DefaultPassphrasePrompt(keyPath string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrPassphraseRequired
	}

	fmt.Fprintf(os.Stderr, "passphrase for %s: ", keyPath)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(passphrase), nil
}

// keyring holds the public keys offered during one handshake. The agent
// connection must outlive the handshake since agent keys sign remotely.
type keyring struct {
	signers []xssh.Signer
	agent   net.Conn
	skipped int
}

func (k *keyring) Close() error {
	if k.agent == nil {
		return nil
	}
	err := k.agent.Close()
	k.agent = nil
	return err
}

// loadKeyring gathers agent keys, then KeyPath, then the identity files,
// then in-memory signers. A source that cannot be used is logged and
// skipped; only the explicit KeyPath is worth a warning.
func loadKeyring(opts ConnectionOptions, logger zerolog.Logger) *keyring {
	k := &keyring{}

	if opts.UseAgent {
		conn, signers, err := agentSigners(os.Getenv("SSH_AUTH_SOCK"))
		switch {
		case errors.Is(err, ErrSSHAgentUnavailable):
		case err != nil:
			logger.Debug().Err(err).Msg("skipping ssh agent")
		default:
			k.agent = conn
			k.signers = append(k.signers, signers...)
		}
	}

	paths := opts.IdentityFiles
	if paths == nil {
		paths = DefaultIdentityFiles()
	}
	if opts.KeyPath != "" {
		paths = append([]string{opts.KeyPath}, paths...)
	}

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		signer, err := readKeyFile(path, opts.PassphrasePrompt)
		switch {
		case err == nil:
			k.signers = append(k.signers, signer)
		case path == opts.KeyPath:
			k.skipped++
			logger.Warn().Err(err).Str("key_path", path).Msg("configured key unusable")
		case errors.Is(err, fs.ErrNotExist):
		default:
			k.skipped++
			logger.Debug().Err(err).Str("key_path", path).Msg("skipping private key")
		}
	}

	k.signers = append(k.signers, opts.Signers...)
	return k
}

// agentSigners lists the keys held by the agent at sock. The returned
// connection stays open for signing.
func agentSigners(sock string) (net.Conn, []xssh.Signer, error) {
	if sock == "" {
		return nil, nil, ErrSSHAgentUnavailable
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ssh agent: %w", err)
	}
	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("list agent keys: %w", err)
	}
	return conn, signers, nil
}

// readKeyFile parses a private key file, asking prompt for the passphrase of
// an encrypted key. A nil prompt or an empty answer leaves the key locked.
func readKeyFile(path string, prompt PassphrasePrompt) (xssh.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	signer, err := xssh.ParsePrivateKey(pemBytes)
	var locked *xssh.PassphraseMissingError
	switch {
	case err == nil:
		return signer, nil
	case !errors.As(err, &locked):
		return nil, fmt.Errorf("parse %s: %w", path, err)
	case prompt == nil:
		return nil, ErrPassphraseRequired
	}

	passphrase, err := prompt(path)
	if err != nil {
		return nil, fmt.Errorf("passphrase for %s: %w", path, err)
	}
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	signer, err = xssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("parse %s with passphrase: %w", path, err)
	}
	return signer, nil
}
