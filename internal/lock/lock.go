// Package lock provides cross-process file locking for swarm's state stores.
// Unlike sync.Mutex which only works within a process, FileLock ensures
// mutual exclusion across separate CLI invocations on the same machine.
//
// Lock acquisition is blocking with no timeout: contention is rare and all
// holders are short-lived load-modify-save cycles. The lock must be held
// across the read AND the subsequent write; releasing between them is a
// correctness bug.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is an advisory exclusive lock backed by flock(2).
type FileLock struct {
	path string
	fl   *flock.Flock
}

// New creates a file lock for the given path.
// The lock file is created on first acquisition if it doesn't exist.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the exclusive lock, blocking until it is available.
// The caller must call Unlock when done.
func (l *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	l.fl = flock.New(l.path)
	if err := l.fl.Lock(); err != nil {
		l.fl = nil
		return fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("creating lock directory: %w", err)
	}
	l.fl = flock.New(l.path)
	locked, err := l.fl.TryLock()
	if err != nil {
		l.fl = nil
		return false, fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	if !locked {
		l.fl = nil
	}
	return locked, nil
}

// Unlock releases the lock. Safe to call even if not locked.
func (l *FileLock) Unlock() error {
	if l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}
	return nil
}

// WithLock executes fn while holding the lock.
// All exits from fn, including panics unwinding through it, release the lock.
func (l *FileLock) WithLock(fn func() error) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
