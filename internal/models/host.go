// Package models defines the inventory types for infco: hosts, the execution
// context they are reached through, and the tasks applied to them.
package models

import (
	"errors"
	"fmt"
)

// ContextType selects how a host is reached.
type ContextType string

const (
	ContextLocal ContextType = "local" // run on this machine
	ContextSSH   ContextType = "ssh"   // run over an SSH session
)

// Host validation errors.
var (
	ErrInvalidHostTitle   = errors.New("host title is required")
	ErrInvalidContextType = errors.New("context type must be local or ssh")
	ErrMissingSSHHost     = errors.New("ssh host is required")
	ErrMissingSSHUsername = errors.New("ssh username is required")
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
)

// Host is a machine that tasks are applied to.
type Host struct {
	// Title is the human-friendly name printed when processing.
	Title string `json:"title" yaml:"title"`

	// Tags select which task files apply to this host.
	Tags []string `json:"tags" yaml:"tags"`

	// Context describes how commands reach the host.
	Context HostContext `json:"context" yaml:"context"`
}

// HostContext is the execution context of a host.
type HostContext struct {
	// Type is local or ssh.
	Type ContextType `json:"type" yaml:"type"`

	// Sudo runs local commands through sudo. Ignored for ssh.
	Sudo bool `json:"sudo,omitempty" yaml:"sudo,omitempty"`

	// Host is the SSH server name or address.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the SSH port (config default when unset).
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Username is the SSH login user.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`

	// ServerPublicKeyHash is the pinned "SHA256:..." host key fingerprint.
	ServerPublicKeyHash string `json:"serverPublicKeyHash,omitempty" yaml:"serverPublicKeyHash,omitempty"`

	// KeyPath is an optional private key used in addition to the defaults.
	KeyPath string `json:"keyPath,omitempty" yaml:"keyPath,omitempty"`
}

// IsLocal reports whether the host runs on this machine.
func (h *Host) IsLocal() bool {
	return h.Context.Type == ContextLocal
}

// Validate checks that the host carries every field its context needs.
// The fingerprint is checked when the backend is built, since it may come
// from configuration instead of the host record.
func (h *Host) Validate() error {
	validation := &ValidationErrors{}
	if h.Title == "" {
		validation.Add("title", ErrInvalidHostTitle)
	}
	validation.Add("context", h.Context.Validate())
	return validation.Err()
}

// Validate checks the context fields for its type.
func (c *HostContext) Validate() error {
	validation := &ValidationErrors{}
	switch c.Type {
	case ContextLocal:
	case ContextSSH:
		if c.Host == "" {
			validation.Add("host", ErrMissingSSHHost)
		}
		if c.Username == "" {
			validation.Add("username", ErrMissingSSHUsername)
		}
		if c.Port < 0 || c.Port > 65535 {
			validation.Add("port", ErrInvalidPort)
		}
	case "":
		validation.AddMessage("type", "context type is required")
	default:
		validation.Add("type", &UnsupportedTypeError{Kind: "context", Type: string(c.Type)})
	}
	return validation.Err()
}

// UnsupportedTypeError reports an unknown context or task type.
type UnsupportedTypeError struct {
	Kind string
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported %s type %q", e.Kind, e.Type)
}

// Is matches ErrInvalidContextType for unknown context types.
func (e *UnsupportedTypeError) Is(target error) bool {
	return e.Kind == "context" && target == ErrInvalidContextType
}
