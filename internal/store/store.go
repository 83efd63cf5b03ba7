// Package store remembers the last created room between runs so that
// "livecall join" can reconnect without arguments.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// State is what gets persisted.
type State struct {
	RoomID    string    `msgpack:"room_id"`
	RoomName  string    `msgpack:"room_name"`
	ServerURL string    `msgpack:"server_url"`
	SavedAt   time.Time `msgpack:"saved_at"`
}

// Empty reports whether no room has been saved.
func (s State) Empty() bool {
	return s.RoomID == ""
}

// Store is a msgpack file holding a single State.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store backed by path. The file is created on first Save.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path is the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the saved state. A missing file yields an empty State.
func (s *Store) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st State
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read state: %w", err)
	}
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	return st, nil
}

// Save replaces the stored state atomically.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now()
	}
	data, err := msgpack.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clear forgets the saved room.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
