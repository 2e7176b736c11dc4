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

// KillOptions configures a kill.
type KillOptions struct {
	// RemoveWorktree also removes the worker's worktree (dirty protection
	// applies unless ForceDirty).
	RemoveWorktree bool
	// ForceDirty discards uncommitted changes when removing the worktree.
	ForceDirty bool
}

// Kill stops a worker: mux workers lose their window, process workers get
// SIGTERM then SIGKILL after the grace period. The record stays in the
// registry with status=stopped; repeated kills are idempotent.
func (e *Engine) Kill(name string, opts KillOptions) error {
	w, err := e.Registry.Get(name)
	if err != nil {
		return err
	}

	switch {
	case w.Mux != nil:
		m := e.mux(w.Mux.Socket)
		if err := m.KillWindow(w.Mux.Session, w.Mux.Window); err != nil {
			if !errors.Is(err, tmux.ErrTargetMissing) && !errors.Is(err, tmux.ErrUnavailable) {
				return fmt.Errorf("killing window: %w", err)
			}
			// Already gone: idempotent.
		}
	case w.PID != nil:
		terminatePid(*w.PID)
	}

	if opts.RemoveWorktree && w.Worktree != nil {
		if err := e.Trees.Remove(w.Worktree.Path, opts.ForceDirty); err != nil {
			var dirty *git.DirtyWorktreeError
			if errors.As(err, &dirty) {
				e.Warnf("worktree %s kept: %d uncommitted change(s); pass --force-dirty to discard", dirty.Path, dirty.ChangeCount)
			} else {
				return fmt.Errorf("removing worktree: %w", err)
			}
		}
	}
	// A ralph worker's loop state goes with --rm-worktree.
	if opts.RemoveWorktree && w.Metadata != nil && w.Metadata.Ralph {
		ralphDir := filepath.Join(e.StateRoot, "ralph", name)
		if err := os.RemoveAll(ralphDir); err != nil {
			e.Warnf("removing ralph state: %v", err)
		}
	}

	if _, err := e.Registry.Update(name, func(rec *registry.Worker) {
		rec.Status = registry.StatusStopped
	}); err != nil {
		return err
	}

	if w.Mux != nil {
		e.reapSession(w.Mux.Session, w.Mux.Socket)
	}
	return nil
}

// reapSession kills a session iff no remaining worker references the same
// (session, socket) pair. Sessions are shared; the registry is the refcount.
func (e *Engine) reapSession(session, socket string) {
	workers, err := e.Registry.List()
	if err != nil {
		e.Warnf("listing workers for session cleanup: %v", err)
		return
	}
	for _, w := range workers {
		if w.Mux == nil || w.Status != registry.StatusRunning {
			continue
		}
		if w.Mux.Session == session && w.Mux.Socket == socket {
			return // still referenced
		}
	}
	m := e.mux(socket)
	if err := m.KillSession(session); err != nil {
		if !errors.Is(err, tmux.ErrTargetMissing) && !errors.Is(err, tmux.ErrUnavailable) {
			e.Warnf("killing empty session %s: %v", session, err)
		}
	}
}

// Clean removes stopped workers from the registry. Running workers are
// skipped with a warning; kill them first.
func (e *Engine) Clean(names []string, all bool) (removed []string, err error) {
	var candidates []*registry.Worker
	if all {
		workers, err := e.Registry.List()
		if err != nil {
			return nil, err
		}
		candidates = workers
	} else {
		for _, name := range names {
			w, err := e.Registry.Get(name)
			if err != nil {
				return removed, err
			}
			candidates = append(candidates, w)
		}
	}

	for _, w := range candidates {
		if e.RefreshStatus(w) == registry.StatusRunning {
			e.Warnf("worker %s is still running; kill it before clean", w.Name)
			continue
		}
		if err := e.Registry.Remove(w.Name); err != nil {
			return removed, err
		}
		removed = append(removed, w.Name)
	}
	return removed, nil
}
