package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/constants"
	"github.com/steveyegge/swarm/internal/detect"
	"github.com/steveyegge/swarm/internal/git"
	"github.com/steveyegge/swarm/internal/registry"
	"github.com/steveyegge/swarm/internal/tmux"
)

// Mode selects how a worker runs.
type Mode string

const (
	// ModeMux runs the worker in a detached tmux window.
	ModeMux Mode = "mux"
	// ModeProcess runs the worker as a bare background process.
	ModeProcess Mode = "process"
)

// WorktreeConfig requests a dedicated git worktree for the worker.
type WorktreeConfig struct {
	// BaseRepo is the repository to create the worktree from.
	BaseRepo string
	// Branch to create or reuse. Defaults to "swarm/<worker-name>".
	Branch string
	// Path overrides the default worktree placement.
	Path string
}

// SpawnOptions configures a spawn.
type SpawnOptions struct {
	Name    string
	Command []string
	Mode    Mode
	Cwd     string
	Env     map[string]string
	Tags    []string

	// Worktree, when non-nil, creates an isolated worktree and runs the
	// worker inside it.
	Worktree *WorktreeConfig

	// Session overrides the default per-state-root session (mux mode).
	Session string
	// Socket selects a separate tmux server (mux mode).
	Socket string

	// WaitReady polls the pane for an agent-ready pattern after spawning.
	WaitReady bool
	// ReadyTimeout bounds the readiness wait; zero uses the default.
	ReadyTimeout time.Duration

	// RemainOnExit keeps the pane alive after the command exits so the exit
	// status stays readable. The ralph runner sets this.
	RemainOnExit bool

	// Metadata is attached verbatim to the record (ralph bookkeeping).
	Metadata *registry.Metadata
}

// rollback is a LIFO cleanup stack. Steps push their undo as they complete;
// a later failure drains the stack in reverse order, a success discards it.
type rollback struct {
	steps []func() error
	warnf func(format string, args ...interface{})
}

func (r *rollback) push(fn func() error) {
	r.steps = append(r.steps, fn)
}

// drain runs the undo steps newest-first. Undo failures are warnings, not
// errors: the original failure is what the caller needs to see.
func (r *rollback) drain() {
	if len(r.steps) > 0 {
		r.warnf("spawn failed; cleaning up %d partial step(s)", len(r.steps))
	}
	for i := len(r.steps) - 1; i >= 0; i-- {
		if err := r.steps[i](); err != nil {
			r.warnf("cleanup after failed spawn: %v", err)
		}
	}
	r.steps = nil
}

// Spawn creates a worker transactionally: validate, create the worktree,
// start the window or process, then register. Any failure after the first
// step reverts completed steps in reverse order before returning the
// original error.
func (e *Engine) Spawn(ctx context.Context, opts SpawnOptions) (*registry.Worker, error) {
	// Step 1: validation. Nothing to roll back on failure here.
	if opts.Name == "" {
		return nil, ErrNameRequired
	}
	if err := tmux.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, ErrEmptyCommand
	}
	if opts.Mode == "" {
		opts.Mode = ModeMux
	}

	// Fast duplicate probe for a clean diagnostic. The authoritative check
	// is inside Registry.Add, under the store lock; a concurrent spawn that
	// slips past this probe loses there and rolls back.
	if _, err := e.Registry.Get(opts.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrWorkerExists, opts.Name)
	}

	var wtInfo *registry.WorktreeInfo
	if opts.Worktree != nil {
		if opts.Worktree.BaseRepo == "" {
			return nil, fmt.Errorf("worktree requested without a base repository")
		}
		if !e.Trees.IsRepository(opts.Worktree.BaseRepo) {
			return nil, fmt.Errorf("%w: %s", git.ErrNotARepository, opts.Worktree.BaseRepo)
		}
		branch := opts.Worktree.Branch
		if branch == "" {
			branch = "swarm/" + opts.Name
		}
		path := opts.Worktree.Path
		if path == "" {
			path = git.DefaultWorktreePath(opts.Worktree.BaseRepo, opts.Name)
		}
		wtInfo = &registry.WorktreeInfo{Path: path, Branch: branch, BaseRepo: opts.Worktree.BaseRepo}
	}

	rb := &rollback{warnf: e.Warnf}

	// Step 2: worktree. An existing directory is reused (respawn, ralph
	// iterations); only a worktree created here is rolled back on failure.
	if wtInfo != nil {
		if _, statErr := os.Stat(wtInfo.Path); os.IsNotExist(statErr) {
			if err := e.Trees.Create(wtInfo.Path, wtInfo.Branch, wtInfo.BaseRepo); err != nil {
				return nil, fmt.Errorf("creating worktree: %w", err)
			}
			rb.push(func() error { return e.Trees.Remove(wtInfo.Path, true) })
		}
		// A worktree worker always runs inside its worktree.
		opts.Cwd = wtInfo.Path
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = "."
	}

	now := time.Now()
	worker := &registry.Worker{
		Name:      opts.Name,
		Status:    registry.StatusRunning,
		Command:   append([]string(nil), opts.Command...),
		StartedAt: now,
		Cwd:       cwd,
		Env:       opts.Env,
		Tags:      opts.Tags,
		Worktree:  wtInfo,
		Metadata:  opts.Metadata,
	}

	// Step 3: window or process.
	switch opts.Mode {
	case ModeMux:
		session := opts.Session
		if session == "" {
			session = tmux.DefaultSession(e.StateRoot)
		}
		m := e.mux(opts.Socket)
		if !m.IsAvailable() {
			rb.drain()
			return nil, fmt.Errorf("%w: tmux binary not found", tmux.ErrUnavailable)
		}
		if err := m.EnsureSession(session, cwd); err != nil {
			rb.drain()
			return nil, fmt.Errorf("ensuring session %s: %w", session, err)
		}
		command := CommandLine(config.EnvWrap(opts.Command, opts.Env))
		if err := m.NewWindow(session, opts.Name, cwd, command); err != nil {
			rb.drain()
			return nil, fmt.Errorf("creating window: %w", err)
		}
		rb.push(func() error { return m.KillWindow(session, opts.Name) })
		if opts.RemainOnExit {
			if err := m.SetRemainOnExit(session, opts.Name, true); err != nil {
				e.Warnf("setting remain-on-exit: %v", err)
			}
		}
		worker.Mux = &registry.MuxInfo{Session: session, Window: opts.Name, Socket: opts.Socket}

	case ModeProcess:
		stdoutPath, stderrPath := e.LogPaths(opts.Name)
		pid, undo, err := startDetached(opts.Command, cwd, opts.Env, stdoutPath, stderrPath)
		if err != nil {
			rb.drain()
			return nil, fmt.Errorf("spawning process: %w", err)
		}
		rb.push(func() error { undo(); return nil })
		worker.PID = &pid

	default:
		rb.drain()
		return nil, fmt.Errorf("unknown spawn mode %q", opts.Mode)
	}

	// Step 4: registration. Add re-checks the name under the store lock.
	if err := e.Registry.Add(worker); err != nil {
		rb.drain()
		return nil, err
	}

	// Step 5: readiness. A timeout is a warning, never a rollback; the
	// worker is up and the caller can inject a prompt later.
	if opts.WaitReady && worker.Mux != nil {
		m := e.mux(opts.Socket)
		capture := func(lines int) (string, error) {
			return m.CapturePane(worker.Mux.Session, worker.Mux.Window, lines)
		}
		res, err := detect.WaitReady(ctx, capture, opts.ReadyTimeout)
		if err != nil {
			e.Warnf("readiness wait: %v", err)
		} else if !res.Ready {
			e.Warnf("worker %s did not reach an agent prompt within %s", opts.Name, readyTimeoutOrDefault(opts.ReadyTimeout))
		}
	}

	return worker, nil
}

func readyTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return constants.ReadinessTimeout
	}
	return d
}

// CommandLine joins an argv into a single shell word sequence for tmux,
// quoting arguments that need it.
func CommandLine(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes an argument when it contains shell metacharacters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$&|;<>()*?[]#~%{}\\!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
