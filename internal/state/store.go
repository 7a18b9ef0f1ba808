// Package state persists the last-known identifier and status of every
// provisioned resource, so repeated runs are idempotent and teardown can
// locate resources after a process restart.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlstack-io/mlstack/internal/stack"
)

const stateVersion = 1

// Store reads and writes one durable state file per stack.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. Files are created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir is the state directory used when none is configured.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mlstack"
	}
	return filepath.Join(home, ".mlstack")
}

type stateFile struct {
	Version int          `json:"version"`
	Stack   *stack.Stack `json:"stack"`
}

// Load reads the stack record, returning an empty stack when no state file
// exists yet.
func (s *Store) Load(name, region string) (*stack.Stack, error) {
	path := s.path(name)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return stack.NewStack(name, region), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}

	var file stateFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if file.Stack == nil {
		return stack.NewStack(name, region), nil
	}
	if file.Stack.Resources == nil {
		file.Stack.Resources = make(map[string]*stack.ResourceState)
	}
	return file.Stack, nil
}

// Save writes the stack record atomically, bumping its serial.
func (s *Store) Save(st *stack.Stack) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	st.Serial++
	raw, err := json.MarshalIndent(stateFile{Version: stateVersion, Stack: st}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	path := s.path(st.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Remove deletes the state file for a stack. Missing files are fine.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".state.json")
}
