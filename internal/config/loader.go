package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "INFCO"

// keyDelimiter separates nested viper keys. Map keys such as host names and
// IP addresses under ssh.known_fingerprints contain dots, so the default "."
// would split them into nested maps.
const keyDelimiter = "::"

// viperKey converts a dotted config key ("ssh.port") to viper's form.
func viperKey(key string) string {
	return strings.ReplaceAll(key, ".", keyDelimiter)
}

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter)),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.SSH.KeyPath = expandTilde(cfg.SSH.KeyPath)
	cfg.History.Path = expandTilde(cfg.History.Path)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "infco"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "infco"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))

	l.setDefaults(cfg)

	// Unmarshal only sees nested env vars that are bound explicitly.
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	setDefault := func(key string, value interface{}) {
		l.v.SetDefault(viperKey(key), value)
	}

	// Global
	setDefault("global.data_dir", cfg.Global.DataDir)
	setDefault("global.config_dir", cfg.Global.ConfigDir)

	// Logging
	setDefault("logging.level", cfg.Logging.Level)
	setDefault("logging.format", cfg.Logging.Format)
	setDefault("logging.file", cfg.Logging.File)
	setDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// SSH
	setDefault("ssh.port", cfg.SSH.Port)
	setDefault("ssh.connect_timeout", cfg.SSH.ConnectTimeout)
	setDefault("ssh.key_path", cfg.SSH.KeyPath)
	setDefault("ssh.use_agent", cfg.SSH.UseAgent)

	// Local
	setDefault("local.shell", cfg.Local.Shell)
	setDefault("local.sudo_prompt_timeout", cfg.Local.SudoPromptTimeout)

	// Runner
	setDefault("runner.queue_size", cfg.Runner.QueueSize)
	setDefault("runner.parallelism", cfg.Runner.Parallelism)
	setDefault("runner.dry_run", cfg.Runner.DryRun)

	// History
	setDefault("history.enabled", cfg.History.Enabled)
	setDefault("history.path", cfg.History.Path)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a value by dotted key ("logging.format"). Values set here win over
// every other source, which is how CLI flags are applied.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(viperKey(key), value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// bindEnvVars binds INFCO_* environment variables for every config key.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		// Global
		"global.data_dir",
		"global.config_dir",
		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.enable_caller",
		// SSH
		"ssh.port",
		"ssh.connect_timeout",
		"ssh.key_path",
		"ssh.use_agent",
		// Local
		"local.shell",
		"local.sudo_prompt_timeout",
		// Runner
		"runner.queue_size",
		"runner.parallelism",
		"runner.dry_run",
		// History
		"history.enabled",
		"history.path",
	}

	for _, key := range envBindings {
		// ssh.key_path -> INFCO_SSH_KEY_PATH
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(viperKey(key), envVar)
	}
}
