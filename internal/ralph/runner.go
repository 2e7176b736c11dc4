package ralph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/constants"
	"github.com/steveyegge/swarm/internal/detect"
	"github.com/steveyegge/swarm/internal/engine"
	"github.com/steveyegge/swarm/internal/registry"
)

// statusPollInterval is how often a paused runner re-reads the loop record
// waiting for a resume or stop.
const statusPollInterval = 2 * time.Second

// Runner drives one restart loop in the foreground. It owns the monitoring;
// the on-disk record is the only shared state with other invocations
// (pause/resume/stop mutate the record, the runner observes it).
type Runner struct {
	Store  *Store
	Engine *engine.Engine

	// Infof reports loop progress. Defaults to stdout.
	Infof func(format string, args ...interface{})
	// Warnf reports non-fatal problems. Defaults to stderr.
	Warnf func(format string, args ...interface{})
}

// NewRunner creates a runner over the given store and engine.
func NewRunner(store *Store, eng *engine.Engine) *Runner {
	return &Runner{
		Store:  store,
		Engine: eng,
		Infof: func(format string, args ...interface{}) {
			fmt.Printf(format+"\n", args...)
		},
		Warnf: func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, "swarm: warning: "+format+"\n", args...)
		},
	}
}

// StartOptions configures a new loop.
type StartOptions struct {
	WorkerName string
	PromptFile string
	// Command is the agent argv executed each iteration.
	Command []string

	MaxIterations       int
	DonePattern         string
	InactivityTimeout   time.Duration
	CheckDoneContinuous bool

	// Worktree isolates the agent; the same worktree is reused across all
	// iterations so commits from one iteration are visible to the next.
	Worktree *engine.WorktreeConfig

	Env     map[string]string
	Tags    []string
	Session string
	Socket  string

	ReadyTimeout time.Duration
}

// Start creates the loop record and runs it to a terminal state.
func (r *Runner) Start(ctx context.Context, opts StartOptions) error {
	if opts.WorkerName == "" {
		return engine.ErrNameRequired
	}
	if opts.PromptFile == "" {
		return fmt.Errorf("prompt file is required")
	}
	if opts.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive")
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = constants.DefaultInactivityTimeout
	}

	var donePattern *regexp.Regexp
	if opts.DonePattern != "" {
		var err error
		donePattern, err = regexp.Compile(opts.DonePattern)
		if err != nil {
			return fmt.Errorf("compiling done pattern: %w", err)
		}
	}

	// The prompt file must be readable up front; it is re-read every
	// iteration, but failing before spawning anything is cheaper.
	if _, err := os.ReadFile(opts.PromptFile); err != nil {
		return fmt.Errorf("reading prompt file: %w", err)
	}

	loop := &Loop{
		LoopID:                   uuid.NewString()[:8],
		WorkerName:               opts.WorkerName,
		PromptFile:               opts.PromptFile,
		MaxIterations:            opts.MaxIterations,
		Status:                   StatusRunning,
		StartedAt:                time.Now(),
		DonePattern:              opts.DonePattern,
		InactivityTimeoutSeconds: int(opts.InactivityTimeout / time.Second),
		CheckDoneContinuous:      opts.CheckDoneContinuous,
	}
	if err := r.Store.Create(loop); err != nil {
		return err
	}
	if err := r.Store.LogEvent(opts.WorkerName, EventStart, fmt.Sprintf("loop %s max_iterations=%d", loop.LoopID, opts.MaxIterations)); err != nil {
		r.Warnf("logging loop start: %v", err)
	}

	return r.run(ctx, opts, donePattern)
}

// Resume continues a paused loop, or reattaches to a loop whose monitor
// died. A record still marked running with no live monitor gets
// exit_reason=monitor_disconnected before the new monitor takes over.
func (r *Runner) Resume(ctx context.Context, opts StartOptions) error {
	loop, err := r.Store.Get(opts.WorkerName)
	if err != nil {
		return err
	}
	switch loop.Status {
	case StatusPaused:
		// Normal resume.
	case StatusRunning:
		// The previous monitor crashed or was disconnected; record it.
		if _, err := r.Store.Update(opts.WorkerName, func(l *Loop) {
			l.ExitReason = ExitMonitorDisconnected
		}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("ralph loop for %s is %s; start a new loop instead", opts.WorkerName, loop.Status)
	}

	if _, err := r.Store.Update(opts.WorkerName, func(l *Loop) {
		l.Status = StatusRunning
		l.ExitReason = ""
	}); err != nil {
		return err
	}
	if err := r.Store.LogEvent(opts.WorkerName, EventResume, fmt.Sprintf("iteration %d", loop.CurrentIteration)); err != nil {
		r.Warnf("logging resume: %v", err)
	}

	opts.PromptFile = loop.PromptFile
	opts.MaxIterations = loop.MaxIterations
	opts.CheckDoneContinuous = loop.CheckDoneContinuous
	opts.InactivityTimeout = time.Duration(loop.InactivityTimeoutSeconds) * time.Second
	var donePattern *regexp.Regexp
	if loop.DonePattern != "" {
		donePattern, err = regexp.Compile(loop.DonePattern)
		if err != nil {
			return fmt.Errorf("compiling done pattern: %w", err)
		}
	}
	return r.run(ctx, opts, donePattern)
}

// run is the outer iteration loop.
func (r *Runner) run(ctx context.Context, opts StartOptions, donePattern *regexp.Regexp) error {
	name := opts.WorkerName

	for {
		if err := ctx.Err(); err != nil {
			r.finish(name, StatusStopped, ExitKilled, "monitor interrupted")
			return err
		}

		loop, err := r.Store.Get(name)
		if err != nil {
			return err
		}

		// External pause: the current agent was not interrupted, and we do
		// not re-spawn. Wait for resume or stop.
		if loop.Status == StatusPaused {
			if err := r.Store.LogEvent(name, EventPause, fmt.Sprintf("iteration %d", loop.CurrentIteration)); err != nil {
				r.Warnf("logging pause: %v", err)
			}
			loop, err = r.awaitResume(ctx, name)
			if err != nil {
				return err
			}
		}
		if loop.Terminal() {
			return nil
		}

		if loop.CurrentIteration >= loop.MaxIterations {
			r.finish(name, StatusStopped, ExitMaxIterations, fmt.Sprintf("completed %d iterations", loop.CurrentIteration))
			return nil
		}

		// 1. Re-read the prompt each iteration; it may evolve between runs.
		promptBytes, err := os.ReadFile(loop.PromptFile)
		if err != nil {
			r.finish(name, StatusFailed, ExitFailed, fmt.Sprintf("prompt file unreadable: %v", err))
			return fmt.Errorf("reading prompt file: %w", err)
		}
		prompt := string(promptBytes)

		// 2. Make sure the agent is up, with readiness wait.
		worker, blocked, err := r.ensureWorker(ctx, opts, loop.CurrentIteration == 0)
		if err != nil {
			r.finish(name, StatusFailed, ExitFailed, fmt.Sprintf("spawning worker: %v", err))
			return err
		}
		if blocked != "" && loop.CurrentIteration == 0 {
			msg := fmt.Sprintf("agent is stuck in a %s dialog; attach and complete it, then resume", blocked)
			r.finish(name, StatusFailed, ExitFailed, msg)
			return errors.New(msg)
		}

		iteration := loop.CurrentIteration + 1
		iterStart := time.Now()
		if _, err := r.Store.Update(name, func(l *Loop) {
			l.CurrentIteration = iteration
			l.IterationStartedAt = &iterStart
			l.IterationEndedAt = nil
		}); err != nil {
			return err
		}
		if err := r.Store.LogEvent(name, EventStart, fmt.Sprintf("iteration %d/%d loop %s", iteration, loop.MaxIterations, loop.LoopID)); err != nil {
			r.Warnf("logging iteration start: %v", err)
		}
		r.Infof("ralph %s: iteration %d/%d", name, iteration, loop.MaxIterations)

		// 3+4. Inject the prompt and capture the baseline.
		baseline, err := r.injectPrompt(worker, prompt)
		if err != nil {
			r.failIteration(name, fmt.Sprintf("injecting prompt: %v", err))
			if stopped := r.maybeStopAfterFailure(name); stopped {
				return nil
			}
			continue
		}
		if _, err := r.Store.Update(name, func(l *Loop) {
			l.PromptBaseline = baseline
		}); err != nil {
			return err
		}

		// 5. Monitor until inactivity, exit, or done.
		m := r.monitorFor(worker, donePattern, opts, baseline)
		res, err := m.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.finish(name, StatusStopped, ExitKilled, "monitor interrupted")
				return err
			}
			r.Warnf("monitoring: %v", err)
			res = &detect.Result{Outcome: detect.OutcomeExited}
		}

		// 6. Update bookkeeping for the iteration's end.
		iterEnd := time.Now()
		duration := iterEnd.Sub(iterStart).Seconds()
		if _, err := r.Store.Update(name, func(l *Loop) {
			l.IterationEndedAt = &iterEnd
			l.IterationDurations = append(l.IterationDurations, duration)
		}); err != nil {
			return err
		}

		switch res.Outcome {
		case detect.OutcomeDone:
			if err := r.Store.LogEvent(name, EventDone, fmt.Sprintf("iteration %d matched done pattern", iteration)); err != nil {
				r.Warnf("logging done: %v", err)
			}
			r.finish(name, StatusStopped, ExitDonePattern, "")
			return nil

		case detect.OutcomeInactive:
			if err := r.Store.LogEvent(name, EventEnd, fmt.Sprintf("iteration %d inactive after %ds", iteration, int(opts.InactivityTimeout/time.Second))); err != nil {
				r.Warnf("logging iteration end: %v", err)
			}
			// Restart trigger: kill the idle agent, keep the worktree.
			if err := r.Engine.Kill(name, engine.KillOptions{}); err != nil && !errors.Is(err, registry.ErrWorkerNotFound) {
				r.Warnf("killing idle worker: %v", err)
			}
			r.resetFailures(name)

		case detect.OutcomeExited:
			// Externally killed? The kill path marks the record stopped.
			if w, err := r.Engine.Registry.Get(name); err == nil && w.Status == registry.StatusStopped {
				if loop, err := r.Store.Get(name); err == nil && loop.Status == StatusPaused {
					continue // pause took effect mid-iteration
				}
				r.finish(name, StatusStopped, ExitKilled, "worker killed externally")
				return nil
			}
			if res.ExitStatus == 0 {
				if err := r.Store.LogEvent(name, EventEnd, fmt.Sprintf("iteration %d exited cleanly", iteration)); err != nil {
					r.Warnf("logging iteration end: %v", err)
				}
				r.resetFailures(name)
			} else {
				r.failIteration(name, fmt.Sprintf("iteration %d exited with status %d", iteration, res.ExitStatus))
				if stopped := r.maybeStopAfterFailure(name); stopped {
					return nil
				}
			}
		}
	}
}

// awaitResume blocks while the loop is paused, returning the record once the
// status changes.
func (r *Runner) awaitResume(ctx context.Context, name string) (*Loop, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loop, err := r.Store.Get(name)
		if err != nil {
			return nil, err
		}
		if loop.Status != StatusPaused {
			return loop, nil
		}
		time.Sleep(statusPollInterval)
	}
}

// ensureWorker makes sure the agent window exists with a live pane, spawning
// or respawning as needed. Returns the worker record and, when readiness
// detection saw a first-run blocking dialog, its name.
func (r *Runner) ensureWorker(ctx context.Context, opts StartOptions, firstIteration bool) (*registry.Worker, string, error) {
	name := opts.WorkerName

	w, err := r.Engine.Registry.Get(name)
	if err == nil && w.Mux != nil {
		m := r.Engine.Mux(w.Mux.Socket)
		exists, werr := m.HasWindow(w.Mux.Session, w.Mux.Window)
		if werr == nil && exists {
			if dead, _, derr := m.PaneDead(w.Mux.Session, w.Mux.Window); derr == nil && dead {
				// Reuse the window: respawn the pane in place.
				command := commandLine(w.Command, w.Env)
				if err := m.RespawnPane(w.Mux.Session, w.Mux.Window, w.Cwd, command); err != nil {
					return nil, "", fmt.Errorf("respawning pane: %w", err)
				}
				if err := m.SetRemainOnExit(w.Mux.Session, w.Mux.Window, true); err != nil {
					r.Warnf("setting remain-on-exit: %v", err)
				}
				if _, err := r.Engine.Registry.Update(name, func(rec *registry.Worker) {
					rec.Status = registry.StatusRunning
					now := time.Now()
					rec.StartedAt = now
					if rec.Metadata == nil {
						rec.Metadata = &registry.Metadata{}
					}
					rec.Metadata.Ralph = true
				}); err != nil {
					return nil, "", err
				}
			}
			blocked, err := r.waitReady(ctx, w, opts.ReadyTimeout, firstIteration)
			return w, blocked, err
		}
		// Window is gone: drop the stale record and fall through to spawn.
		if err := r.Engine.Registry.Remove(name); err != nil && !errors.Is(err, registry.ErrWorkerNotFound) {
			return nil, "", err
		}
	} else if err == nil {
		return nil, "", fmt.Errorf("worker %s is not a mux worker; ralph requires a mux window", name)
	}

	spawned, err := r.Engine.Spawn(ctx, engine.SpawnOptions{
		Name:         name,
		Command:      opts.Command,
		Mode:         engine.ModeMux,
		Env:          opts.Env,
		Tags:         opts.Tags,
		Worktree:     opts.Worktree,
		Session:      opts.Session,
		Socket:       opts.Socket,
		RemainOnExit: true,
		Metadata:     &registry.Metadata{Ralph: true},
	})
	if err != nil {
		return nil, "", err
	}
	blocked, err := r.waitReady(ctx, spawned, opts.ReadyTimeout, firstIteration)
	return spawned, blocked, err
}

// waitReady runs readiness detection against a worker's pane. A timeout is a
// warning (the prompt goes in anyway); a blocking dialog is reported to the
// caller for the first-iteration abort. On the first iteration a blocking
// state ends the wait immediately instead of riding out the timeout.
func (r *Runner) waitReady(ctx context.Context, w *registry.Worker, timeout time.Duration, firstIteration bool) (string, error) {
	m := r.Engine.Mux(w.Mux.Socket)
	capture := func(lines int) (string, error) {
		return m.CapturePane(w.Mux.Session, w.Mux.Window, lines)
	}
	wait := detect.WaitReady
	if firstIteration {
		wait = detect.WaitReadyOrBlocked
	}
	res, err := wait(ctx, capture, timeout)
	if err != nil {
		return "", err
	}
	if res.Blocked != "" {
		return res.Blocked, nil
	}
	if !res.Ready {
		r.Warnf("worker %s not visibly ready; injecting prompt anyway", w.Name)
	}
	return "", nil
}

// injectPrompt clears any pending input, pastes the prompt, presses Enter,
// and captures the pane immediately after as the done-pattern baseline.
func (r *Runner) injectPrompt(w *registry.Worker, prompt string) (string, error) {
	m := r.Engine.Mux(w.Mux.Socket)
	session, window := w.Mux.Session, w.Mux.Window

	// Escape then Ctrl-U dismisses autocomplete overlays and clears any
	// half-typed input before the paste.
	if err := m.SendKey(session, window, "Escape"); err != nil {
		return "", err
	}
	time.Sleep(constants.PreClearDelay)
	if err := m.SendKey(session, window, "C-u"); err != nil {
		return "", err
	}
	time.Sleep(constants.PreClearDelay)

	if err := m.SendLine(session, window, prompt); err != nil {
		return "", err
	}

	baseline, err := m.CapturePane(session, window, 0)
	if err != nil {
		return "", fmt.Errorf("capturing prompt baseline: %w", err)
	}
	return baseline, nil
}

// monitorFor builds the inactivity monitor for one iteration.
func (r *Runner) monitorFor(w *registry.Worker, donePattern *regexp.Regexp, opts StartOptions, baseline string) *detect.Monitor {
	m := r.Engine.Mux(w.Mux.Socket)
	session, window := w.Mux.Session, w.Mux.Window
	return &detect.Monitor{
		Capture: func(lines int) (string, error) {
			return m.CapturePane(session, window, lines)
		},
		PaneDead: func() (bool, int, error) {
			return m.PaneDead(session, window)
		},
		Timeout:       opts.InactivityTimeout,
		DonePattern:   donePattern,
		CheckDone:     opts.CheckDoneContinuous && donePattern != nil,
		BaselineLines: detect.BaselineLineCount(baseline),
	}
}

// resetFailures zeroes the consecutive-failure counter after a clean
// iteration.
func (r *Runner) resetFailures(name string) {
	if _, err := r.Store.Update(name, func(l *Loop) {
		l.ConsecutiveFailures = 0
	}); err != nil {
		r.Warnf("resetting failure counter: %v", err)
	}
}

// failIteration records a failed iteration and sleeps the backoff delay.
func (r *Runner) failIteration(name, reason string) {
	var failures int
	if _, err := r.Store.Update(name, func(l *Loop) {
		l.ConsecutiveFailures++
		l.TotalFailures++
		failures = l.ConsecutiveFailures
	}); err != nil {
		r.Warnf("recording failure: %v", err)
	}
	if err := r.Store.LogEvent(name, EventFail, reason); err != nil {
		r.Warnf("logging failure: %v", err)
	}
	r.Warnf("%s", reason)

	if failures < constants.MaxConsecutiveFailures {
		delay := BackoffDelay(failures)
		r.Infof("ralph %s: backing off %s before retry (%d consecutive failures)", name, delay, failures)
		time.Sleep(delay)
	}
}

// maybeStopAfterFailure stops the loop once the failure budget is spent.
func (r *Runner) maybeStopAfterFailure(name string) bool {
	loop, err := r.Store.Get(name)
	if err != nil {
		r.Warnf("reading loop state: %v", err)
		return false
	}
	if loop.ConsecutiveFailures >= constants.MaxConsecutiveFailures {
		r.finish(name, StatusFailed, ExitFailed, fmt.Sprintf("%d consecutive failures", loop.ConsecutiveFailures))
		return true
	}
	return false
}

// finish moves the loop to a terminal state. Every terminal transition sets
// a non-null exit reason.
func (r *Runner) finish(name string, status Status, reason ExitReason, detail string) {
	if _, err := r.Store.Update(name, func(l *Loop) {
		l.Status = status
		l.ExitReason = reason
	}); err != nil {
		r.Warnf("finalizing loop state: %v", err)
	}
	event := EventEnd
	if status == StatusFailed {
		event = EventFail
	} else if reason == ExitDonePattern {
		event = EventDone
	}
	text := string(reason)
	if detail != "" {
		text += ": " + detail
	}
	if err := r.Store.LogEvent(name, event, text); err != nil {
		r.Warnf("logging loop end: %v", err)
	}
	if detail != "" {
		r.Infof("ralph %s: %s (%s)", name, reason, detail)
	} else {
		r.Infof("ralph %s: %s", name, reason)
	}
}

// commandLine rebuilds the shell command for a pane respawn, env shim
// included, matching what the original spawn ran.
func commandLine(argv []string, env map[string]string) string {
	return engine.CommandLine(config.EnvWrap(argv, env))
}
