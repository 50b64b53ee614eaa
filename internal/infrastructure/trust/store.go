// Package trust implements the consent gate in front of sideloaded packages.
// A package runs only after an explicit allow decision scoped to a single
// invocation, a board, or the package everywhere. No decision means denied.
package trust

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Scope is the granularity of a recorded decision.
type Scope string

const (
	// ScopeOnce allows exactly one invocation and is never persisted.
	ScopeOnce Scope = "once"
	// ScopeBoard allows the package on one board.
	ScopeBoard Scope = "board"
	// ScopePackage allows the package everywhere.
	ScopePackage Scope = "package"
)

// Decision is one recorded consent.
type Decision struct {
	Digest  string `yaml:"digest"`
	Scope   Scope  `yaml:"scope"`
	BoardID string `yaml:"board_id,omitempty"`
}

// FileStore persists decisions to a YAML file, typically
// ~/.flowhost/trust.yaml.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the conventional trust file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".flowhost", "trust.yaml"), nil
}

type trustFile struct {
	Decisions []Decision `yaml:"decisions"`
}

// Load reads all persisted decisions. A missing file is an empty store.
func (s *FileStore) Load() ([]Decision, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trust file: %w", err)
	}

	var f trustFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse trust file: %w", err)
	}
	return f.Decisions, nil
}

// Save writes the full decision list, replacing the previous file.
func (s *FileStore) Save(decisions []Decision) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create trust directory: %w", err)
	}

	persisted := make([]Decision, 0, len(decisions))
	for _, d := range decisions {
		if d.Scope == ScopeOnce {
			continue
		}
		persisted = append(persisted, d)
	}

	data, err := yaml.MarshalWithOptions(trustFile{Decisions: persisted}, yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("failed to marshal trust file: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}
