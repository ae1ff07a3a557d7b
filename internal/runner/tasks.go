package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/tOgg1/infco/internal/executor"
	"github.com/tOgg1/infco/internal/logging"
	"github.com/tOgg1/infco/internal/models"
)

const localFileMode = 0o644

// runTask dispatches one task to its handler and returns the output shown
// to the user.
func runTask(ctx context.Context, backend executor.Backend, task models.Task) (string, error) {
	switch task.Type {
	case models.TaskCommand:
		return runCommand(ctx, backend, task)
	case models.TaskFileTransfer:
		return transferFile(ctx, backend, task)
	case models.TaskHTTPRequest:
		return sendHTTPRequest(ctx, backend, task)
	default:
		return "", &models.UnsupportedTypeError{Kind: "task", Type: string(task.Type)}
	}
}

func runCommand(ctx context.Context, backend executor.Executor, task models.Task) (string, error) {
	cfg, err := task.CommandConfig()
	if err != nil {
		return "", err
	}
	logger := logging.FromContext(ctx)
	logger.Debug().Str("command", logging.RedactCommand(cfg.Command)).Msg("running command")
	return backend.Run(ctx, cfg.Command)
}

// transferFile copies a whole file between this machine and the host
// context. contextToLocal reads through the backend and writes locally;
// localToContext reads locally and writes through the backend.
func transferFile(ctx context.Context, backend executor.Executor, task models.Task) (string, error) {
	cfg, err := task.FileTransferConfig()
	if err != nil {
		return "", err
	}

	switch cfg.Direction {
	case models.DirectionContextToLocal:
		data, err := backend.FileRead(ctx, cfg.ContextPath)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(cfg.LocalPath, data, localFileMode); err != nil {
			return "", fmt.Errorf("write %s: %w", cfg.LocalPath, err)
		}
		return fmt.Sprintf("%d bytes %s -> %s", len(data), cfg.ContextPath, cfg.LocalPath), nil

	case models.DirectionLocalToContext:
		data, err := os.ReadFile(cfg.LocalPath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", cfg.LocalPath, err)
		}
		if err := backend.FileWrite(ctx, cfg.ContextPath, data); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d bytes %s -> %s", len(data), cfg.LocalPath, cfg.ContextPath), nil

	default:
		// FileTransferConfig already rejects other directions.
		return "", fmt.Errorf("%w %q given", models.ErrInvalidDirection, cfg.Direction)
	}
}

func sendHTTPRequest(ctx context.Context, backend executor.Forwarder, task models.Task) (string, error) {
	cfg, err := task.HTTPRequestConfig()
	if err != nil {
		return "", err
	}
	return backend.ForwardHTTP(ctx, cfg.TunnelTarget(), executor.HTTPRequest{
		Method: cfg.Method,
		Path:   cfg.Path,
		Body:   []byte(cfg.Body),
	})
}
