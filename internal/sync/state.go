package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// State records the last successful sync. A zero SHA means never synced.
type State struct {
	SHA  string    `yaml:"sha,omitempty"`
	Time time.Time `yaml:"time,omitempty"`
}

// StateStore persists sync state between cycles. The engine reads it at the
// start of every cycle and writes it only after a successful install.
type StateStore interface {
	Load() (*State, error)
	Save(*State) error
}

// FileStore implements StateStore as a YAML document on disk
type FileStore struct {
	path string
}

// NewFileStore creates a store persisting state at the given path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted state. A missing file is not an error; it means
// the target has never been synced.
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return &state, nil
}

// Save persists the state, creating the parent directory if needed
func (s *FileStore) Save(state *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	return os.WriteFile(s.path, data, 0644)
}
