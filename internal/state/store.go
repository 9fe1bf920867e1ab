package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	logx "arrsweep/pkg/logx"
)

// Store loads and persists the combined scheduler state. All mutation goes
// through Update, which holds the store lock across the in-memory change
// and the save, so concurrent lanes can never interleave a write.
type Store struct {
	path string
	log  logx.Logger

	mu sync.Mutex
	st *State
}

// Open loads the state file at path. A missing or unreadable file is not an
// error: the scheduler starts fresh from an empty state.
func Open(path string, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &Store{path: path, log: log, st: New()}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		log.Warn("failed to read state; starting fresh", logx.String("path", path), logx.Err(err))
	default:
		var st State
		if err := json.Unmarshal(b, &st); err != nil {
			log.Warn("state file corrupt; starting fresh", logx.String("path", path), logx.Err(err))
		} else {
			st.normalize()
			s.st = &st
		}
	}
	return s, nil
}

// View runs fn with read access to the state. fn must not retain the state
// beyond the call.
func (s *Store) View(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Update runs fn with write access to the state, then saves atomically.
// If the save fails the in-memory change is kept (it will be retried by the
// next Update) and the error is returned.
func (s *Store) Update(fn func(st *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
	return s.saveLocked()
}

// Save persists the current state without mutating it.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the full state with the write-to-temp-then-rename
// discipline so a crash mid-write cannot leave a half-written file.
func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
