// Package config handles infco configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for infco.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// SSH connection defaults
	SSH SSHConfig `yaml:"ssh" mapstructure:"ssh"`

	// Local backend settings
	Local LocalConfig `yaml:"local" mapstructure:"local"`

	// Runner settings
	Runner RunnerConfig `yaml:"runner" mapstructure:"runner"`

	// Run history settings
	History HistoryConfig `yaml:"history" mapstructure:"history"`
}

// GlobalConfig contains global infco settings.
type GlobalConfig struct {
	// DataDir is where infco stores its data (default: ~/.local/share/infco).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/infco).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// SSHConfig contains defaults for SSH hosts.
type SSHConfig struct {
	// Port is used when a host does not name one.
	Port int `yaml:"port" mapstructure:"port"`

	// ConnectTimeout bounds TCP connect and handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// KeyPath is an extra private key tried before the default identities.
	KeyPath string `yaml:"key_path" mapstructure:"key_path"`

	// UseAgent enables ssh-agent authentication via SSH_AUTH_SOCK.
	UseAgent bool `yaml:"use_agent" mapstructure:"use_agent"`

	// KnownFingerprints maps host names to pinned fingerprints for hosts
	// whose record omits serverPublicKeyHash.
	KnownFingerprints map[string]string `yaml:"known_fingerprints" mapstructure:"known_fingerprints"`
}

// LocalConfig contains local backend settings.
type LocalConfig struct {
	// Shell runs local commands as `<shell> -c <command>`.
	Shell string `yaml:"shell" mapstructure:"shell"`

	// SudoPromptTimeout bounds the wait for sudo's password prompt.
	SudoPromptTimeout time.Duration `yaml:"sudo_prompt_timeout" mapstructure:"sudo_prompt_timeout"`
}

// RunnerConfig contains task runner settings.
type RunnerConfig struct {
	// QueueSize is the request queue capacity of each remote backend.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`

	// Parallelism is how many hosts are processed at once.
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism"`

	// DryRun prints routing decisions without connecting.
	DryRun bool `yaml:"dry_run" mapstructure:"dry_run"`
}

// HistoryConfig contains run history settings.
type HistoryConfig struct {
	// Enabled records every run in the history database.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "infco"),
			ConfigDir: filepath.Join(homeDir, ".config", "infco"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		SSH: SSHConfig{
			Port:              22,
			ConnectTimeout:    30 * time.Second,
			UseAgent:          true,
			KnownFingerprints: map[string]string{},
		},
		Local: LocalConfig{
			Shell:             "bash",
			SudoPromptTimeout: 5 * time.Second,
		},
		Runner: RunnerConfig{
			QueueSize:   100,
			Parallelism: 1,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "", // Will be set to DataDir/history.db
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}

	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be between 1 and 65535")
	}

	if c.SSH.ConnectTimeout < 0 {
		return fmt.Errorf("ssh.connect_timeout must not be negative")
	}

	if c.Local.Shell == "" {
		return fmt.Errorf("local.shell is required")
	}

	if c.Local.SudoPromptTimeout < 100*time.Millisecond {
		return fmt.Errorf("local.sudo_prompt_timeout must be at least 100ms")
	}

	if c.Runner.QueueSize < 1 {
		return fmt.Errorf("runner.queue_size must be at least 1")
	}

	if c.Runner.Parallelism < 1 {
		return fmt.Errorf("runner.parallelism must be at least 1")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// HistoryPath returns the full history database path.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.Global.DataDir, "history.db")
}

// Fingerprint returns the configured fingerprint for host, if any.
// Viper lowercases map keys, so lookups are case-insensitive.
func (c *Config) Fingerprint(host string) string {
	if c.SSH.KnownFingerprints == nil {
		return ""
	}
	return c.SSH.KnownFingerprints[strings.ToLower(host)]
}
