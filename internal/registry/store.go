package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/swarm/internal/lock"
)

// storeFile wraps the worker list for the on-disk representation.
type storeFile struct {
	Workers []*Worker `json:"workers"`
}

// Store is the persistent worker registry: <state_root>/state.json guarded
// by <state_root>/state.lock. Every mutation holds the lock across its full
// load-modify-save cycle, so mutations are linearizable across processes.
type Store struct {
	path     string
	lockPath string
}

// NewStore creates a store rooted at the given state directory.
func NewStore(stateRoot string) *Store {
	return &Store{
		path:     filepath.Join(stateRoot, "state.json"),
		lockPath: filepath.Join(stateRoot, "state.lock"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// load reads the store file. Caller must hold the lock.
// A missing file yields an empty store; a malformed file is renamed aside
// and replaced with a fresh store, with a warning on stderr.
func (s *Store) load() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storeFile{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		corrupted := s.path + ".corrupted"
		if renameErr := os.Rename(s.path, corrupted); renameErr == nil {
			fmt.Fprintf(os.Stderr, "swarm: warning: state file was corrupted, moved to %s\n", corrupted)
		} else {
			fmt.Fprintf(os.Stderr, "swarm: warning: state file was corrupted and could not be moved aside: %v\n", renameErr)
		}
		return &storeFile{}, nil
	}
	return &sf, nil
}

// save writes the store file. Caller must hold the lock.
func (s *Store) save(sf *storeFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Add appends a new worker record. Fails with ErrWorkerExists if the name is
// taken; this check runs under the store lock and is the authoritative
// duplicate guard (any earlier probe is only a fast diagnostic).
func (s *Store) Add(w *Worker) error {
	return lock.New(s.lockPath).WithLock(func() error {
		sf, err := s.load()
		if err != nil {
			return err
		}
		for _, existing := range sf.Workers {
			if existing.Name == w.Name {
				return fmt.Errorf("%w: %s", ErrWorkerExists, w.Name)
			}
		}
		sf.Workers = append(sf.Workers, w.Clone())
		return s.save(sf)
	})
}

// Remove deletes a worker record by name.
func (s *Store) Remove(name string) error {
	return lock.New(s.lockPath).WithLock(func() error {
		sf, err := s.load()
		if err != nil {
			return err
		}
		for i, w := range sf.Workers {
			if w.Name == name {
				sf.Workers = append(sf.Workers[:i], sf.Workers[i+1:]...)
				return s.save(sf)
			}
		}
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	})
}

// Update applies fn to a copy of the named record and replaces the stored
// record with the result, all under the store lock.
func (s *Store) Update(name string, fn func(*Worker)) (*Worker, error) {
	var updated *Worker
	err := lock.New(s.lockPath).WithLock(func() error {
		sf, err := s.load()
		if err != nil {
			return err
		}
		for i, w := range sf.Workers {
			if w.Name == name {
				c := w.Clone()
				fn(c)
				sf.Workers[i] = c
				updated = c.Clone()
				return s.save(sf)
			}
		}
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	})
	return updated, err
}

// Get returns a snapshot of the named worker, or ErrWorkerNotFound.
func (s *Store) Get(name string) (*Worker, error) {
	var found *Worker
	err := lock.New(s.lockPath).WithLock(func() error {
		sf, err := s.load()
		if err != nil {
			return err
		}
		for _, w := range sf.Workers {
			if w.Name == name {
				found = w.Clone()
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, name)
	})
	return found, err
}

// List returns snapshots of all workers.
func (s *Store) List() ([]*Worker, error) {
	var out []*Worker
	err := lock.New(s.lockPath).WithLock(func() error {
		sf, err := s.load()
		if err != nil {
			return err
		}
		out = make([]*Worker, 0, len(sf.Workers))
		for _, w := range sf.Workers {
			out = append(out, w.Clone())
		}
		return nil
	})
	return out, err
}
