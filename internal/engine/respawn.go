package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/swarm/internal/registry"
)

// RespawnOptions configures a respawn.
type RespawnOptions struct {
	// CleanFirst removes and recreates the worktree on the same branch
	// before restarting, discarding the old checkout.
	CleanFirst bool
	// WaitReady polls for an agent prompt after the restart.
	WaitReady bool
	// ReadyTimeout bounds the readiness wait; zero uses the default.
	ReadyTimeout time.Duration
}

// Respawn restarts a worker with its original configuration: command, env,
// tags, cwd, session, and worktree are preserved; the record is replaced
// with a fresh one (new started_at, new pid or window).
func (e *Engine) Respawn(ctx context.Context, name string, opts RespawnOptions) (*registry.Worker, error) {
	w, err := e.Registry.Get(name)
	if err != nil {
		return nil, err
	}

	if e.RefreshStatus(w) == registry.StatusRunning {
		if err := e.Kill(name, KillOptions{}); err != nil {
			return nil, fmt.Errorf("stopping worker before respawn: %w", err)
		}
	}

	if opts.CleanFirst && w.Worktree != nil {
		if err := e.Trees.Remove(w.Worktree.Path, true); err != nil {
			return nil, fmt.Errorf("removing worktree for clean respawn: %w", err)
		}
	}

	if err := e.Registry.Remove(name); err != nil {
		return nil, err
	}

	spawn := SpawnOptions{
		Name:         name,
		Command:      w.Command,
		Cwd:          w.Cwd,
		Env:          w.Env,
		Tags:         w.Tags,
		WaitReady:    opts.WaitReady,
		ReadyTimeout: opts.ReadyTimeout,
		Metadata:     w.Metadata,
	}
	if w.Mux != nil {
		spawn.Mode = ModeMux
		spawn.Session = w.Mux.Session
		spawn.Socket = w.Mux.Socket
	} else {
		spawn.Mode = ModeProcess
	}
	if w.Worktree != nil {
		spawn.Worktree = &WorktreeConfig{
			BaseRepo: w.Worktree.BaseRepo,
			Branch:   w.Worktree.Branch,
			Path:     w.Worktree.Path,
		}
		// Reuse the existing worktree unless CleanFirst removed it; the
		// create path reuses the branch either way.
		if !opts.CleanFirst {
			spawn.Cwd = w.Worktree.Path
		}
	}

	fresh, err := e.Spawn(ctx, spawn)
	if err != nil {
		return nil, fmt.Errorf("respawning %s: %w", name, err)
	}
	return fresh, nil
}
