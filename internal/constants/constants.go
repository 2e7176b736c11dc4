// Package constants centralizes timing values and shared names used across
// swarm packages. Keeping them in one place makes the polling cadence of the
// readiness detector, the inactivity monitor, and the kill path easy to audit.
package constants

import "time"

// Polling and timeout values.
const (
	// ReadinessPollInterval is how often the readiness detector samples the pane.
	ReadinessPollInterval = 500 * time.Millisecond

	// ReadinessTimeout is the default budget for an agent to reach its prompt.
	ReadinessTimeout = 120 * time.Second

	// InactivityPollInterval is how often the inactivity monitor samples the pane.
	InactivityPollInterval = 2 * time.Second

	// InactivityTailLines is how many trailing pane lines feed the screen hash.
	InactivityTailLines = 20

	// DefaultInactivityTimeout restarts a ralph iteration after this much
	// unchanged screen time when no per-loop override is set.
	DefaultInactivityTimeout = 180 * time.Second

	// KillPollInterval is how often the kill path re-probes a PID after SIGTERM.
	KillPollInterval = 100 * time.Millisecond

	// KillGracePeriod is how long a process gets to exit after SIGTERM
	// before SIGKILL is sent.
	KillGracePeriod = 5 * time.Second

	// HeartbeatPollInterval is the scheduler's decision cadence. Beats are
	// computed against each heartbeat's own interval; this only bounds how
	// stale a due beat can get.
	HeartbeatPollInterval = 30 * time.Second

	// SendDebounce is the pause between pasting literal text into a pane and
	// sending Enter. Claude Code drops the Enter if it arrives mid-paste.
	SendDebounce = 500 * time.Millisecond

	// PreClearDelay is the pause after Escape/C-u before injecting a prompt,
	// giving the agent's TUI time to dismiss autocomplete overlays.
	PreClearDelay = 100 * time.Millisecond
)

// Ralph loop failure handling.
const (
	// MaxConsecutiveFailures stops a ralph loop after this many agent exits
	// with a non-zero code in a row.
	MaxConsecutiveFailures = 5

	// BackoffCap bounds the exponential inter-iteration backoff.
	BackoffCap = 300 * time.Second
)

// SessionPrefix namespaces the shared tmux sessions swarm creates.
const SessionPrefix = "swarm-"

// StateDirName is the per-user state directory under $HOME.
const StateDirName = ".swarm"

// SupportedShells are pane commands that mean "no agent running here".
var SupportedShells = []string{"bash", "zsh", "fish", "sh", "dash"}
