package detect

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/steveyegge/swarm/internal/constants"
	"github.com/steveyegge/swarm/internal/tmux"
)

// ansiRe strips ANSI CSI and OSC sequences when normalizing content for
// hashing. Hashing raw captures would register spinner color cycling as
// activity even when the text is static.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]|\x1b\][^\x07]*(\x07|\x1b\\)`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// TailLines returns the last n lines of content.
func TailLines(content string, n int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ScreenHash hashes the ANSI-stripped tail of a capture. Two captures with
// the same hash are "the same screen" for inactivity purposes.
func ScreenHash(content string) string {
	normalized := StripANSI(TailLines(content, constants.InactivityTailLines))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ScanAfterBaseline matches re only against capture lines at or past the
// baseline line count. The injected prompt occupies the first baselineLines
// of the pane; skipping them prevents a done-pattern that literally appears
// in the prompt text from matching itself.
func ScanAfterBaseline(capture string, baselineLines int, re *regexp.Regexp) bool {
	if re == nil {
		return false
	}
	lines := strings.Split(capture, "\n")
	if baselineLines < 0 {
		baselineLines = 0
	}
	if baselineLines >= len(lines) {
		return false
	}
	for _, line := range lines[baselineLines:] {
		if re.MatchString(StripANSI(line)) {
			return true
		}
	}
	return false
}

// BaselineLineCount counts the lines of a baseline capture.
func BaselineLineCount(baseline string) int {
	if baseline == "" {
		return 0
	}
	return len(strings.Split(baseline, "\n"))
}

// Outcome is why a monitoring wait ended.
type Outcome int

const (
	// OutcomeInactive means the screen hash was stable for the full timeout.
	OutcomeInactive Outcome = iota
	// OutcomeExited means the worker's window or pane process went away.
	OutcomeExited
	// OutcomeDone means the done pattern matched past the baseline.
	OutcomeDone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeExited:
		return "worker_exited"
	case OutcomeDone:
		return "done_pattern_matched"
	}
	return "unknown"
}

// Monitor watches a pane for inactivity, exit, or a done-pattern match.
type Monitor struct {
	// Capture samples the pane.
	Capture CaptureFunc

	// PaneDead reports whether the pane's process has exited and its status.
	// Optional; when nil, only a vanished window counts as an exit.
	PaneDead func() (bool, int, error)

	// Timeout is how long the screen must stay unchanged to be inactive.
	Timeout time.Duration

	// Poll overrides the sampling interval (tests); zero uses the default.
	Poll time.Duration

	// DonePattern, when non-nil with CheckDone set, ends the wait as soon as
	// it matches past BaselineLines.
	DonePattern   *regexp.Regexp
	CheckDone     bool
	BaselineLines int

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// Result reports how a monitoring wait ended.
type Result struct {
	Outcome Outcome
	// ExitStatus is the pane process's exit status when Outcome is
	// OutcomeExited and the pane was observable; otherwise 0.
	ExitStatus int
	// LastCapture is the final pane sample.
	LastCapture string
}

// Wait polls until one of the outcomes occurs. The inactivity clock starts
// now and resets whenever the screen hash changes.
func (m *Monitor) Wait(ctx context.Context) (*Result, error) {
	clock := m.now
	if clock == nil {
		clock = time.Now
	}
	poll := m.Poll
	if poll <= 0 {
		poll = constants.InactivityPollInterval
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultInactivityTimeout
	}

	res := &Result{}
	lastHash := ""
	lastChange := clock()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if m.PaneDead != nil {
			dead, status, err := m.PaneDead()
			if err != nil {
				if errors.Is(err, tmux.ErrTargetMissing) || errors.Is(err, tmux.ErrUnavailable) {
					res.Outcome = OutcomeExited
					return res, nil
				}
				return res, err
			}
			if dead {
				res.Outcome = OutcomeExited
				res.ExitStatus = status
				return res, nil
			}
		}

		content, err := m.Capture(0)
		if err != nil {
			if errors.Is(err, tmux.ErrTargetMissing) || errors.Is(err, tmux.ErrUnavailable) {
				res.Outcome = OutcomeExited
				return res, nil
			}
			return res, err
		}
		res.LastCapture = content

		if m.CheckDone && ScanAfterBaseline(content, m.BaselineLines, m.DonePattern) {
			res.Outcome = OutcomeDone
			return res, nil
		}

		hash := ScreenHash(content)
		if hash != lastHash {
			lastHash = hash
			lastChange = clock()
		} else if clock().Sub(lastChange) >= timeout {
			res.Outcome = OutcomeInactive
			return res, nil
		}

		time.Sleep(poll)
	}
}
