package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// TaskType identifies what a task does.
type TaskType string

const (
	TaskCommand      TaskType = "command"
	TaskFileTransfer TaskType = "fileTransfer"
	TaskHTTPRequest  TaskType = "httpRequest"
)

// Direction is the file transfer direction relative to the host context.
type Direction string

const (
	DirectionContextToLocal Direction = "contextToLocal"
	DirectionLocalToContext Direction = "localToContext"
)

// Task validation errors.
var (
	ErrMissingCommand     = errors.New("command is required")
	ErrMissingLocalPath   = errors.New("local path is required")
	ErrMissingContextPath = errors.New("context path is required")
	ErrMissingDirection   = errors.New("no direction given")
	ErrInvalidDirection   = errors.New("unknown direction")
	ErrMissingTarget      = errors.New("socket or host and port are required")
	ErrInvalidPath        = errors.New("path must start with /")
)

// Task is one unit of work applied to every matching host.
type Task struct {
	// Type selects the task handler.
	Type TaskType `json:"type" yaml:"type"`

	// Config holds the type-specific settings.
	Config map[string]any `json:"config" yaml:"config"`
}

// CommandConfig is the config of a command task.
type CommandConfig struct {
	Command string `json:"command"`
}

// FileTransferConfig is the config of a fileTransfer task.
type FileTransferConfig struct {
	LocalPath   string    `json:"localPath"`
	ContextPath string    `json:"contextPath"`
	Direction   Direction `json:"direction"`
}

// HTTPRequestConfig is the config of an httpRequest task.
type HTTPRequestConfig struct {
	Socket string `json:"socket"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body"`
}

// TunnelTarget returns where the forwarded request is delivered.
func (c HTTPRequestConfig) TunnelTarget() TunnelTarget {
	return TunnelTarget{Socket: c.Socket, Host: c.Host, Port: c.Port}
}

// TunnelTarget is the remote end of a forwarding channel: a unix socket path
// or a host and port.
type TunnelTarget struct {
	Socket string
	Host   string
	Port   int
}

// IsSocket reports whether the target is a unix socket.
func (t TunnelTarget) IsSocket() bool {
	return t.Socket != ""
}

func (t TunnelTarget) String() string {
	if t.IsSocket() {
		return "unix:" + t.Socket
	}
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Validate checks the task type and its config.
func (t *Task) Validate() error {
	var err error
	switch t.Type {
	case TaskCommand:
		_, err = t.CommandConfig()
	case TaskFileTransfer:
		_, err = t.FileTransferConfig()
	case TaskHTTPRequest:
		_, err = t.HTTPRequestConfig()
	case "":
		validation := &ValidationErrors{}
		validation.AddMessage("type", "task type is required")
		return validation.Err()
	default:
		return &UnsupportedTypeError{Kind: "task", Type: string(t.Type)}
	}
	return err
}

// CommandConfig decodes the config of a command task.
func (t *Task) CommandConfig() (CommandConfig, error) {
	var cfg CommandConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return cfg, err
	}
	validation := &ValidationErrors{}
	if strings.TrimSpace(cfg.Command) == "" {
		validation.Add("config.command", ErrMissingCommand)
	}
	return cfg, validation.Err()
}

// FileTransferConfig decodes the config of a fileTransfer task.
func (t *Task) FileTransferConfig() (FileTransferConfig, error) {
	var cfg FileTransferConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return cfg, err
	}
	validation := &ValidationErrors{}
	if cfg.LocalPath == "" {
		validation.Add("config.localPath", ErrMissingLocalPath)
	}
	if cfg.ContextPath == "" {
		validation.Add("config.contextPath", ErrMissingContextPath)
	}
	switch cfg.Direction {
	case DirectionContextToLocal, DirectionLocalToContext:
	case "":
		validation.Add("config.direction", ErrMissingDirection)
	default:
		validation.Add("config.direction", fmt.Errorf("%w %q given", ErrInvalidDirection, cfg.Direction))
	}
	return cfg, validation.Err()
}

// HTTPRequestConfig decodes the config of an httpRequest task.
// Method defaults to GET and path to "/".
func (t *Task) HTTPRequestConfig() (HTTPRequestConfig, error) {
	var cfg HTTPRequestConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	validation := &ValidationErrors{}
	if cfg.Socket == "" && (cfg.Host == "" || cfg.Port <= 0) {
		validation.Add("config.socket", ErrMissingTarget)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		validation.Add("config.port", ErrInvalidPort)
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		validation.Add("config.path", ErrInvalidPath)
	}
	return cfg, validation.Err()
}

func decodeConfig(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		validation := &ValidationErrors{}
		validation.Add("config", err)
		return validation.Err()
	}
	return nil
}
