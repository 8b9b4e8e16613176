package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/semindex/semindex/internal/model"
)

// FolderRegistry is the durable list of folders a daemon is responsible
// for, so it can reload its scheduling set across restarts without CLI
// args (SPEC_FULL §3 "Folder registry file").
type FolderRegistry struct {
	Folders []model.FolderConfig `yaml:"folders"`
}

// LoadFolderRegistry reads and validates folders.yaml at path. A missing
// file yields an empty registry, not an error.
func LoadFolderRegistry(path string) (*FolderRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FolderRegistry{}, nil
		}
		return nil, fmt.Errorf("config: read folder registry %s: %w", path, err)
	}

	var reg FolderRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("config: parse folder registry %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(reg.Folders))
	for i := range reg.Folders {
		f := &reg.Folders[i]
		abs, err := filepath.Abs(f.ResolvedAbsolutePath)
		if err != nil {
			return nil, fmt.Errorf("config: resolve folder path %q: %w", f.ResolvedAbsolutePath, err)
		}
		f.ResolvedAbsolutePath = abs
		if _, dup := seen[abs]; dup {
			return nil, fmt.Errorf("config: duplicate folder path %q in registry", abs)
		}
		seen[abs] = struct{}{}
		if f.Name == "" {
			f.Name = filepath.Base(abs)
		}
		if f.ModelID == "" {
			f.ModelID = Get().GetEmbedding().DefaultModelID
		}
	}
	return &reg, nil
}

// Save writes the registry back to path as YAML.
func (r *FolderRegistry) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Add registers a new folder, rejecting duplicate resolved paths.
func (r *FolderRegistry) Add(fc model.FolderConfig) error {
	abs, err := filepath.Abs(fc.ResolvedAbsolutePath)
	if err != nil {
		return err
	}
	fc.ResolvedAbsolutePath = abs
	for _, existing := range r.Folders {
		if existing.ResolvedAbsolutePath == abs {
			return fmt.Errorf("config: folder %q already registered", abs)
		}
	}
	r.Folders = append(r.Folders, fc)
	return nil
}

// Remove drops the folder identified by its resolved absolute path.
func (r *FolderRegistry) Remove(resolvedPath string) bool {
	for i, f := range r.Folders {
		if f.ResolvedAbsolutePath == resolvedPath {
			r.Folders = append(r.Folders[:i], r.Folders[i+1:]...)
			return true
		}
	}
	return false
}
