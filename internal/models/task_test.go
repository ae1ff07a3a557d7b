package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCommandConfig(t *testing.T) {
	task := Task{Type: TaskCommand, Config: map[string]any{"command": "uname -a"}}

	cfg, err := task.CommandConfig()
	require.NoError(t, err)
	assert.Equal(t, "uname -a", cfg.Command)
	require.NoError(t, task.Validate())
}

func TestTaskCommandConfig_Missing(t *testing.T) {
	task := Task{Type: TaskCommand, Config: map[string]any{}}

	err := task.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCommand)
	assert.Contains(t, err.Error(), "config.command")
}

func TestTaskFileTransferConfig(t *testing.T) {
	task := Task{Type: TaskFileTransfer, Config: map[string]any{
		"localPath":   "/tmp/a",
		"contextPath": "/etc/hosts",
		"direction":   "contextToLocal",
	}}

	cfg, err := task.FileTransferConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a", cfg.LocalPath)
	assert.Equal(t, "/etc/hosts", cfg.ContextPath)
	assert.Equal(t, DirectionContextToLocal, cfg.Direction)
}

func TestTaskFileTransferConfig_BadDirection(t *testing.T) {
	task := Task{Type: TaskFileTransfer, Config: map[string]any{
		"localPath":   "/tmp/a",
		"contextPath": "/tmp/b",
		"direction":   "sideways",
	}}

	_, err := task.FileTransferConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDirection)
	assert.Contains(t, err.Error(), `unknown direction "sideways" given`)
}

func TestTaskFileTransferConfig_NoDirection(t *testing.T) {
	task := Task{Type: TaskFileTransfer, Config: map[string]any{"localPath": "a", "contextPath": "b"}}
	assert.ErrorIs(t, task.Validate(), ErrMissingDirection)
}

func TestTaskHTTPRequestConfig_Defaults(t *testing.T) {
	task := Task{Type: TaskHTTPRequest, Config: map[string]any{
		"host": "127.0.0.1",
		"port": float64(8080),
	}}

	cfg, err := task.HTTPRequestConfig()
	require.NoError(t, err)
	assert.Equal(t, "GET", cfg.Method)
	assert.Equal(t, "/", cfg.Path)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "127.0.0.1:8080", cfg.TunnelTarget().String())
	assert.False(t, cfg.TunnelTarget().IsSocket())
}

func TestTaskHTTPRequestConfig_Socket(t *testing.T) {
	task := Task{Type: TaskHTTPRequest, Config: map[string]any{
		"socket": "/var/run/docker.sock",
		"method": "post",
		"path":   "/containers/json",
		"body":   "{}",
	}}

	cfg, err := task.HTTPRequestConfig()
	require.NoError(t, err)
	assert.Equal(t, "POST", cfg.Method)
	assert.True(t, cfg.TunnelTarget().IsSocket())
	assert.Equal(t, "unix:/var/run/docker.sock", cfg.TunnelTarget().String())
}

func TestTaskHTTPRequestConfig_MissingTarget(t *testing.T) {
	task := Task{Type: TaskHTTPRequest, Config: map[string]any{"path": "/x"}}
	assert.ErrorIs(t, task.Validate(), ErrMissingTarget)
}

func TestTaskValidate_UnknownType(t *testing.T) {
	task := Task{Type: "reboot"}

	err := task.Validate()
	require.Error(t, err)
	var unsupported *UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "task", unsupported.Kind)
	assert.Equal(t, "reboot", unsupported.Type)
}
