// Package inventory loads host and task files. Files are JSON unless their
// extension is .yaml or .yml.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tOgg1/infco/internal/models"
	"gopkg.in/yaml.v3"
)

// HostFile is the document shape of a host file.
type HostFile struct {
	Hosts []models.Host `json:"hosts" yaml:"hosts"`
}

// TaskFile is the document shape of a task file. Its tasks apply to every
// host sharing at least one of Tags.
type TaskFile struct {
	Tags  []string      `json:"tags" yaml:"tags"`
	Tasks []models.Task `json:"tasks" yaml:"tasks"`
}

// LoadHosts reads and validates a host file.
func LoadHosts(path string) (*HostFile, error) {
	var file HostFile
	if err := load(path, "host", &file); err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host file %s: %w", path, err)
	}
	return &file, nil
}

// LoadTasks reads and validates a task file.
func LoadTasks(path string) (*TaskFile, error) {
	var file TaskFile
	if err := load(path, "task", &file); err != nil {
		return nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}
	return &file, nil
}

// Validate checks every host and rejects duplicate titles.
func (f *HostFile) Validate() error {
	validation := &models.ValidationErrors{}
	seen := make(map[string]int, len(f.Hosts))
	for i := range f.Hosts {
		host := &f.Hosts[i]
		field := fmt.Sprintf("hosts[%d]", i)
		validation.Add(field, host.Validate())
		if host.Title == "" {
			continue
		}
		if first, ok := seen[host.Title]; ok {
			validation.AddMessage(field+".title", fmt.Sprintf("duplicate host title %q (also hosts[%d])", host.Title, first))
			continue
		}
		seen[host.Title] = i
	}
	return validation.Err()
}

// Validate checks every task.
func (f *TaskFile) Validate() error {
	validation := &models.ValidationErrors{}
	for i := range f.Tasks {
		validation.Add(fmt.Sprintf("tasks[%d]", i), f.Tasks[i].Validate())
	}
	return validation.Err()
}

func load(path, kind string, out any) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%s file path is required", kind)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s file %s: %w", kind, path, err)
	}

	if err := decode(path, data, out); err != nil {
		return fmt.Errorf("parse %s file %s: %w", kind, path, err)
	}
	return nil
}

func decode(path string, data []byte, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	default:
		return json.Unmarshal(data, out)
	}
}
