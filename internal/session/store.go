// Package session persists browser preferences between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Mode is the collection view layout.
type Mode string

const (
	ModeList  Mode = "list"
	ModeIcons Mode = "icons"
)

// State is what the browser remembers between runs.
type State struct {
	Mode     Mode      `json:"mode"`
	IconSize int       `json:"icon_size"`
	LastFile string    `json:"last_file,omitempty"`
	SavedAt  time.Time `json:"saved_at"`
}

// FileStore persists a session State as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore that saves to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string { return s.path }

// Save writes state, replacing any previous session. The file is written
// to a temporary sibling and renamed into place.
func (s *FileStore) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("session: creating directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshaling: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: replacing %s: %w", s.path, err)
	}
	return nil
}

// Load reads the saved session.
// Returns (state, true, nil) if found, (zero, false, nil) if not found.
func (s *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("session: reading %s: %w", s.path, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("session: parsing %s: %w", s.path, err)
	}
	switch state.Mode {
	case ModeList, ModeIcons:
	default:
		return State{}, false, fmt.Errorf("session: parsing %s: unknown mode %q", s.path, state.Mode)
	}
	return state, true, nil
}

// Remove deletes the saved session.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: removing %s: %w", s.path, err)
	}
	return nil
}
