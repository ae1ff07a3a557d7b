package executor

import (
	"context"
	"time"

	"github.com/tOgg1/infco/internal/config"
	"github.com/tOgg1/infco/internal/models"
	"github.com/tOgg1/infco/internal/ssh"
)

// Options carries the defaults NewBackend applies to host records.
type Options struct {
	// SSHPort is used when a host omits its port.
	SSHPort int

	// ConnectTimeout bounds TCP connect and handshake.
	ConnectTimeout time.Duration

	// KeyPath is a private key used when the host names none.
	KeyPath string

	// UseAgent enables ssh-agent keys.
	UseAgent bool

	// IdentityFiles overrides the default ~/.ssh identities (nil keeps them).
	IdentityFiles []string

	// Fingerprints resolves a pin for hosts whose record has none.
	Fingerprints func(host string) string

	// PassphrasePrompt unlocks encrypted keys.
	PassphrasePrompt ssh.PassphrasePrompt

	// QueueSize bounds each remote backend's request queue.
	QueueSize int

	// Local configures local backends; Sudo is taken from the host record.
	Local LocalOptions
}

// OptionsFromConfig derives backend options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SSHPort:          cfg.SSH.Port,
		ConnectTimeout:   cfg.SSH.ConnectTimeout,
		KeyPath:          cfg.SSH.KeyPath,
		UseAgent:         cfg.SSH.UseAgent,
		Fingerprints:     cfg.Fingerprint,
		PassphrasePrompt: ssh.DefaultPassphrasePrompt,
		QueueSize:        cfg.Runner.QueueSize,
		Local: LocalOptions{
			Shell:         cfg.Local.Shell,
			PromptTimeout: cfg.Local.SudoPromptTimeout,
		},
	}
}

// NewBackend builds the backend a host's context names.
func NewBackend(ctx context.Context, host models.Host, opts Options) (Backend, error) {
	if err := host.Validate(); err != nil {
		return nil, err
	}

	if host.IsLocal() {
		local := opts.Local
		local.Sudo = host.Context.Sudo
		return NewLocal(local), nil
	}

	connOpts, err := connectionOptions(host, opts)
	if err != nil {
		return nil, err
	}
	return NewRemote(ctx, connOpts, RemoteConfig{QueueSize: opts.QueueSize})
}

func connectionOptions(host models.Host, opts Options) (ssh.ConnectionOptions, error) {
	hc := host.Context

	fingerprint := hc.ServerPublicKeyHash
	if fingerprint == "" && opts.Fingerprints != nil {
		fingerprint = opts.Fingerprints(hc.Host)
	}
	if fingerprint == "" {
		verr := &models.ValidationErrors{}
		verr.Add("context.serverPublicKeyHash", ssh.ErrMissingFingerprint)
		return ssh.ConnectionOptions{}, verr.Err()
	}

	port := hc.Port
	if port == 0 {
		port = opts.SSHPort
	}
	keyPath := hc.KeyPath
	if keyPath == "" {
		keyPath = opts.KeyPath
	}

	return ssh.ConnectionOptions{
		Host:             hc.Host,
		Port:             port,
		User:             hc.Username,
		Fingerprint:      fingerprint,
		KeyPath:          keyPath,
		UseAgent:         opts.UseAgent,
		IdentityFiles:    opts.IdentityFiles,
		PassphrasePrompt: opts.PassphrasePrompt,
		Timeout:          opts.ConnectTimeout,
	}, nil
}
