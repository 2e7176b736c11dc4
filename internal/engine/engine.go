// Package engine implements the worker lifecycle: transactional spawn with
// rollback, graceful-then-forceful kill, respawn, and status refresh.
//
// The engine is the policy layer: the registry, tmux, and git packages raise
// structured errors; the engine decides what to roll back and what to
// surface. It talks to its collaborators through narrow interfaces so tests
// can substitute in-memory fakes.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/swarm/internal/git"
	"github.com/steveyegge/swarm/internal/registry"
	"github.com/steveyegge/swarm/internal/tmux"
)

// Common errors.
var (
	ErrEmptyCommand = errors.New("command must not be empty")
	ErrNameRequired = errors.New("worker name is required")
)

// Multiplexer is the subset of tmux operations the engine needs.
type Multiplexer interface {
	IsAvailable() bool
	EnsureSession(name, workDir string) error
	NewWindow(session, window, workDir, command string) error
	HasWindow(session, window string) (bool, error)
	ListWindows(session string) ([]string, error)
	KillWindow(session, window string) error
	KillSession(name string) error
	HasSession(name string) (bool, error)
	CapturePane(session, window string, historyLines int) (string, error)
	SendLine(session, window, text string) error
	SendText(session, window, text string) error
	SendKey(session, window, key string) error
	SetRemainOnExit(session, window string, on bool) error
	PaneDead(session, window string) (bool, int, error)
	RespawnPane(session, window, workDir, command string) error
}

// MuxFactory returns a Multiplexer for a socket ("" = default server).
type MuxFactory func(socket string) Multiplexer

// Worktrees is the subset of git operations the engine needs.
type Worktrees interface {
	IsRepository(path string) bool
	Create(path, branch, baseRepo string) error
	Remove(path string, force bool) error
	ChangeCount(path string) (int, error)
}

// gitWorktrees adapts the git package to the Worktrees interface.
type gitWorktrees struct{}

func (gitWorktrees) IsRepository(path string) bool {
	return git.NewGit(path).IsRepo()
}

func (gitWorktrees) Create(path, branch, baseRepo string) error {
	return git.NewGit(baseRepo).WorktreeAdd(path, branch)
}

func (gitWorktrees) Remove(path string, force bool) error {
	// Resolve the owning repository from the worktree itself when possible;
	// a vanished path still prunes cleanly from any repo context.
	dir := path
	if _, err := os.Stat(path); err != nil {
		dir = filepath.Dir(path)
	}
	g := git.NewGit(dir)
	return g.WorktreeRemove(path, force)
}

func (gitWorktrees) ChangeCount(path string) (int, error) {
	return git.NewGit(path).ChangeCount(path)
}

// Engine coordinates the registry, the mux, worktrees, and the OS process
// table for worker lifecycle operations.
type Engine struct {
	Registry  *registry.Store
	StateRoot string

	// Mux builds a multiplexer per socket. Defaults to the real tmux wrapper.
	Mux MuxFactory

	// Trees is the worktree adapter. Defaults to the real git wrapper.
	Trees Worktrees

	// Warnf receives non-fatal diagnostics. Defaults to stderr.
	Warnf func(format string, args ...interface{})
}

// New creates an engine over the given state root.
func New(stateRoot string) *Engine {
	return &Engine{
		Registry:  registry.NewStore(stateRoot),
		StateRoot: stateRoot,
		Mux: func(socket string) Multiplexer {
			return tmux.NewWithSocket(socket)
		},
		Trees: gitWorktrees{},
		Warnf: func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, "swarm: warning: "+format+"\n", args...)
		},
	}
}

// mux returns the multiplexer for a worker's socket.
func (e *Engine) mux(socket string) Multiplexer {
	return e.Mux(socket)
}

// LogPaths returns the stdout/stderr log file paths for a process worker.
func (e *Engine) LogPaths(name string) (string, string) {
	dir := filepath.Join(e.StateRoot, "logs")
	return filepath.Join(dir, name+".stdout.log"), filepath.Join(dir, name+".stderr.log")
}

// RefreshStatus determines a worker's current status from reality: window
// existence for mux workers, a signal-0 probe for process workers. It does
// not touch the registry; observing is a read.
func (e *Engine) RefreshStatus(w *registry.Worker) registry.Status {
	switch {
	case w.Mux != nil:
		exists, err := e.mux(w.Mux.Socket).HasWindow(w.Mux.Session, w.Mux.Window)
		if err == nil && exists {
			return registry.StatusRunning
		}
		return registry.StatusStopped
	case w.PID != nil:
		if pidAlive(*w.PID) {
			return registry.StatusRunning
		}
		return registry.StatusStopped
	}
	return registry.StatusStopped
}
