// Package detect implements pattern matching over captured pane buffers:
// agent readiness detection and screen-hash inactivity monitoring.
//
// Readiness patterns are matched against raw captures with ANSI escapes
// intact. Do not strip ANSI before matching: the prompt patterns anchor on
// the SGR escape itself as a valid line prefix (Claude Code colors its
// prompt, so "\x1b[...m> " is what a ready pane actually contains).
package detect

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/steveyegge/swarm/internal/constants"
	"github.com/steveyegge/swarm/internal/tmux"
)

// CaptureFunc samples the pane: visible content plus scrollback lines.
type CaptureFunc func(historyLines int) (string, error)

// Pattern pairs a regex with a name for diagnostics.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// sgrPrefix matches zero or more SGR escapes at the start of a line.
const sgrPrefix = `(?:\x1b\[[0-9;]*m)*`

// ReadyPatterns are tried per captured line, in order; first hit wins.
var ReadyPatterns = []Pattern{
	{"bypass-permissions", regexp.MustCompile(`(?i)bypass permissions`)},
	{"permissions-mode", regexp.MustCompile(`(?i)permissions mode`)},
	{"shift-tab-cycle", regexp.MustCompile(`(?i)shift\+tab to cycle`)},
	{"claude-banner", regexp.MustCompile(`(?i)claude code v?\d+\.\d+`)},
	{"opencode-banner", regexp.MustCompile(`(?i)opencode v?\d+\.\d+`)},
	{"agent-prompt", regexp.MustCompile(`^` + sgrPrefix + `> `)},
	{"arrow-prompt", regexp.MustCompile(`^` + sgrPrefix + `❯`)},
	{"shell-prompt", regexp.MustCompile(`^` + sgrPrefix + `\$ `)},
	{"python-repl", regexp.MustCompile(`^>>> `)},
}

// BlockingPatterns are first-run interactive states that look alive but
// cannot accept a prompt. A match means keep waiting, never "ready"; the
// ralph runner aborts with a diagnostic when it sees one on iteration 1.
var BlockingPatterns = []Pattern{
	{"theme-picker", regexp.MustCompile(`Choose the text style`)},
	{"theme-picker", regexp.MustCompile(`looks best with your terminal`)},
	{"login-prompt", regexp.MustCompile(`Select login method`)},
	{"login-prompt", regexp.MustCompile(`Paste code here`)},
}

// ScanReady scans a capture line by line. Blocking states win over ready
// states: a theme picker also paints prompt-like characters.
// Returns the matched pattern name and whether the pane is ready.
func ScanReady(capture string) (matched string, ready bool, blocked bool) {
	lines := strings.Split(capture, "\n")
	for _, line := range lines {
		for _, p := range BlockingPatterns {
			if p.Re.MatchString(line) {
				return p.Name, false, true
			}
		}
	}
	for _, line := range lines {
		for _, p := range ReadyPatterns {
			if p.Re.MatchString(line) {
				return p.Name, true, false
			}
		}
	}
	return "", false, false
}

// ReadyResult reports the outcome of a readiness wait.
type ReadyResult struct {
	Ready bool
	// Pattern is the matched ready-pattern name when Ready is true.
	Pattern string
	// Blocked is the blocking-state name last observed, if any.
	Blocked string
	// LastCapture is the final pane content when Ready is false.
	LastCapture string
}

// WaitReady polls the pane until a ready pattern appears or the timeout
// expires. Blocking states are recorded but waited through: an attached
// user may be clicking through them. Capture failures from a missing
// target are retried (the window may still be initializing); other errors
// propagate.
func WaitReady(ctx context.Context, capture CaptureFunc, timeout time.Duration) (*ReadyResult, error) {
	return waitReady(ctx, capture, timeout, false)
}

// WaitReadyOrBlocked is like WaitReady but returns as soon as a blocking
// state is observed. The ralph runner uses it on a loop's first iteration
// to abort with a diagnostic instead of burning the whole timeout on a
// theme picker or login prompt nobody will answer.
func WaitReadyOrBlocked(ctx context.Context, capture CaptureFunc, timeout time.Duration) (*ReadyResult, error) {
	return waitReady(ctx, capture, timeout, true)
}

func waitReady(ctx context.Context, capture CaptureFunc, timeout time.Duration, stopOnBlock bool) (*ReadyResult, error) {
	if timeout <= 0 {
		timeout = constants.ReadinessTimeout
	}
	deadline := time.Now().Add(timeout)
	result := &ReadyResult{}

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		content, err := capture(0)
		if err != nil {
			if errors.Is(err, tmux.ErrTargetMissing) {
				time.Sleep(constants.ReadinessPollInterval)
				continue
			}
			return result, err
		}
		result.LastCapture = content

		matched, ready, blocked := ScanReady(content)
		if ready {
			result.Ready = true
			result.Pattern = matched
			return result, nil
		}
		if blocked {
			result.Blocked = matched
			if stopOnBlock {
				return result, nil
			}
		}
		time.Sleep(constants.ReadinessPollInterval)
	}
	return result, nil
}
