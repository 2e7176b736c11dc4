package ralph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/swarm/internal/lock"
)

// Store persists loop records, one directory per driven worker:
// <state_root>/ralph/<worker>/state.json plus a sibling iterations.log.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given state directory.
func NewStore(stateRoot string) *Store {
	return &Store{root: filepath.Join(stateRoot, "ralph")}
}

// Dir returns the per-worker state directory.
func (s *Store) Dir(worker string) string {
	return filepath.Join(s.root, worker)
}

func (s *Store) statePath(worker string) string {
	return filepath.Join(s.Dir(worker), "state.json")
}

func (s *Store) lockPath(worker string) string {
	return filepath.Join(s.Dir(worker), "state.lock")
}

// LogPath returns the append-only iteration log path.
func (s *Store) LogPath(worker string) string {
	return filepath.Join(s.Dir(worker), "iterations.log")
}

// Exists reports whether a loop record exists for the worker.
func (s *Store) Exists(worker string) bool {
	_, err := os.Stat(s.statePath(worker))
	return err == nil
}

// load reads the record. Caller must hold the lock.
func (s *Store) load(worker string) (*Loop, error) {
	data, err := os.ReadFile(s.statePath(worker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLoopNotFound, worker)
		}
		return nil, fmt.Errorf("reading ralph state: %w", err)
	}
	var l Loop
	if err := json.Unmarshal(data, &l); err != nil {
		corrupted := s.statePath(worker) + ".corrupted"
		if renameErr := os.Rename(s.statePath(worker), corrupted); renameErr == nil {
			fmt.Fprintf(os.Stderr, "swarm: warning: ralph state for %s was corrupted, moved to %s\n", worker, corrupted)
		}
		return nil, fmt.Errorf("%w: %s", ErrLoopNotFound, worker)
	}
	return &l, nil
}

// save writes the record. Caller must hold the lock.
func (s *Store) save(l *Loop) error {
	dir := s.Dir(l.WorkerName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating ralph state directory: %w", err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ralph state: %w", err)
	}
	if err := os.WriteFile(s.statePath(l.WorkerName), data, 0644); err != nil {
		return fmt.Errorf("writing ralph state: %w", err)
	}
	return nil
}

// Create persists a new loop record. Fails if a non-terminal record exists.
func (s *Store) Create(l *Loop) error {
	return lock.New(s.lockPath(l.WorkerName)).WithLock(func() error {
		if existing, err := s.load(l.WorkerName); err == nil && !existing.Terminal() {
			return fmt.Errorf("%w: %s (status %s)", ErrLoopExists, l.WorkerName, existing.Status)
		}
		return s.save(l)
	})
}

// Get returns a snapshot of the loop record.
func (s *Store) Get(worker string) (*Loop, error) {
	var out *Loop
	err := lock.New(s.lockPath(worker)).WithLock(func() error {
		l, err := s.load(worker)
		if err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// Update applies fn to the record under the lock and persists the result.
func (s *Store) Update(worker string, fn func(*Loop)) (*Loop, error) {
	var out *Loop
	err := lock.New(s.lockPath(worker)).WithLock(func() error {
		l, err := s.load(worker)
		if err != nil {
			return err
		}
		fn(l)
		if err := s.save(l); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// Remove deletes a worker's loop state directory.
func (s *Store) Remove(worker string) error {
	return os.RemoveAll(s.Dir(worker))
}

// List returns the workers that have loop records.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ralph directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && s.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Event names for the iteration log.
const (
	EventStart  = "START"
	EventEnd    = "END"
	EventDone   = "DONE"
	EventFail   = "FAIL"
	EventPause  = "PAUSE"
	EventResume = "RESUME"
)

// LogEvent appends a line to iterations.log:
// "<iso_timestamp> [<event>] <text>".
func (s *Store) LogEvent(worker, event, text string) error {
	if err := os.MkdirAll(s.Dir(worker), 0755); err != nil {
		return fmt.Errorf("creating ralph state directory: %w", err)
	}
	f, err := os.OpenFile(s.LogPath(worker), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening iterations log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format(time.RFC3339Nano), event, text)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending to iterations log: %w", err)
	}
	return nil
}
