package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Runner.QueueSize)
	assert.Equal(t, 1, cfg.Runner.Parallelism)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, "bash", cfg.Local.Shell)
	assert.Equal(t, filepath.Join(cfg.Global.DataDir, "history.db"), cfg.HistoryPath())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"queue size", func(c *Config) { c.Runner.QueueSize = 0 }, "runner.queue_size"},
		{"parallelism", func(c *Config) { c.Runner.Parallelism = 0 }, "runner.parallelism"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"port", func(c *Config) { c.SSH.Port = 0 }, "ssh.port"},
		{"shell", func(c *Config) { c.Local.Shell = "" }, "local.shell"},
		{"sudo timeout", func(c *Config) { c.Local.SudoPromptTimeout = time.Millisecond }, "local.sudo_prompt_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: json
ssh:
  port: 2222
  connect_timeout: 5s
  key_path: ~/.ssh/deploy
  known_fingerprints:
    Web-1.example.com: "SHA256:abc"
runner:
  queue_size: 10
  parallelism: 4
history:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, 5*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, filepath.Join(dir, ".ssh", "deploy"), cfg.SSH.KeyPath)
	assert.Equal(t, "SHA256:abc", cfg.Fingerprint("web-1.example.com"))
	assert.Equal(t, "SHA256:abc", cfg.Fingerprint("WEB-1.example.com"))
	assert.Equal(t, 10, cfg.Runner.QueueSize)
	assert.Equal(t, 4, cfg.Runner.Parallelism)
	assert.False(t, cfg.History.Enabled)
	assert.True(t, cfg.SSH.UseAgent)
}

func TestLoad_KnownFingerprintsWithDottedHosts(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.yaml")
	content := `
ssh:
  known_fingerprints:
    10.0.0.5: "SHA256:ip"
    db.internal.example.com: "SHA256:fqdn"
    bastion: "SHA256:short"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Len(t, cfg.SSH.KnownFingerprints, 3)
	assert.Equal(t, "SHA256:ip", cfg.Fingerprint("10.0.0.5"))
	assert.Equal(t, "SHA256:fqdn", cfg.Fingerprint("db.internal.example.com"))
	assert.Equal(t, "SHA256:short", cfg.Fingerprint("bastion"))
	assert.Empty(t, cfg.Fingerprint("10.0.0.6"))
	assert.Equal(t, 22, cfg.SSH.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runner:\n  parallelism: 2\n"), 0o644))

	t.Setenv("INFCO_RUNNER_PARALLELISM", "8")
	t.Setenv("INFCO_LOGGING_LEVEL", "warn")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Runner.Parallelism)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_SetWins(t *testing.T) {
	isolateEnv(t)
	t.Setenv("INFCO_LOGGING_FORMAT", "json")

	loader := NewLoader()
	loader.Set("logging.format", "console")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolateEnv(t)
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidValue(t *testing.T) {
	isolateEnv(t)
	t.Setenv("INFCO_RUNNER_QUEUE_SIZE", "0")
	_, err := LoadDefault()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner.queue_size")
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Global.DataDir = filepath.Join(dir, "data")
	cfg.Global.ConfigDir = filepath.Join(dir, "config")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.Global.DataDir)
	assert.DirExists(t, cfg.Global.ConfigDir)
}
