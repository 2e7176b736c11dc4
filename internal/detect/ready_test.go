package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/steveyegge/swarm/internal/tmux"
)

func TestScanReady_ReadyPatterns(t *testing.T) {
	tests := []struct {
		name    string
		capture string
		pattern string
	}{
		{"bypass permissions", "some output\n⏵⏵ bypass permissions on (shift+tab to cycle)", "bypass-permissions"},
		{"permissions mode", "Permissions mode: acceptEdits", "permissions-mode"},
		{"claude banner", "✻ Welcome!\nClaude Code v2.1.30", "claude-banner"},
		{"opencode banner", "opencode v0.6.4", "opencode-banner"},
		{"plain prompt", "banner\n> ", "agent-prompt"},
		{"sgr prompt", "banner\n\x1b[1m\x1b[38;5;205m> \x1b[0mtype here", "agent-prompt"},
		{"arrow prompt", "\x1b[32m❯\x1b[0m ", "arrow-prompt"},
		{"shell prompt", "$ ", "shell-prompt"},
		{"python repl", ">>> ", "python-repl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, ready, blocked := ScanReady(tt.capture)
			if !ready || blocked {
				t.Fatalf("ScanReady() ready=%v blocked=%v, want ready", ready, blocked)
			}
			if matched != tt.pattern {
				t.Errorf("matched %q, want %q", matched, tt.pattern)
			}
		})
	}
}

func TestScanReady_NotReadyMidLine(t *testing.T) {
	// A "> " in the middle of a line is quoted output, not a prompt.
	capture := "the agent said > hello\nstill thinking..."
	if _, ready, _ := ScanReady(capture); ready {
		t.Error("mid-line > should not count as a prompt")
	}
}

func TestScanReady_BlockingWinsOverReady(t *testing.T) {
	// The theme picker paints prompt-like characters; it must win.
	capture := "Choose the text style that looks best with your terminal\n> 1. Dark mode"
	matched, ready, blocked := ScanReady(capture)
	if ready || !blocked {
		t.Fatalf("ScanReady() ready=%v blocked=%v, want blocked", ready, blocked)
	}
	if matched != "theme-picker" {
		t.Errorf("matched %q, want theme-picker", matched)
	}
}

func TestScanReady_LoginBlocks(t *testing.T) {
	for _, capture := range []string{"Select login method:", "Paste code here if prompted:"} {
		if _, _, blocked := ScanReady(capture); !blocked {
			t.Errorf("ScanReady(%q) should block", capture)
		}
	}
}

func TestWaitReady_MatchesEventually(t *testing.T) {
	calls := 0
	capture := func(int) (string, error) {
		calls++
		if calls < 3 {
			return "starting up...", nil
		}
		return "banner\n> ", nil
	}

	res, err := WaitReady(context.Background(), capture, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitReady() failed: %v", err)
	}
	if !res.Ready || res.Pattern != "agent-prompt" {
		t.Errorf("WaitReady() = %+v, want ready via agent-prompt", res)
	}
}

func TestWaitReady_TimeoutReturnsLastCapture(t *testing.T) {
	capture := func(int) (string, error) {
		return "still booting", nil
	}
	res, err := WaitReady(context.Background(), capture, 700*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitReady() failed: %v", err)
	}
	if res.Ready {
		t.Error("WaitReady() = ready, want timeout")
	}
	if res.LastCapture != "still booting" {
		t.Errorf("LastCapture = %q", res.LastCapture)
	}
}

func TestWaitReady_RetriesMissingTarget(t *testing.T) {
	calls := 0
	capture := func(int) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("%w: window builder", tmux.ErrTargetMissing)
		}
		return "> ", nil
	}
	res, err := WaitReady(context.Background(), capture, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitReady() should retry missing targets: %v", err)
	}
	if !res.Ready {
		t.Error("WaitReady() = not ready after retry")
	}
}

func TestWaitReadyOrBlocked_ReturnsEarly(t *testing.T) {
	capture := func(int) (string, error) {
		return "Choose the text style that looks best with your terminal", nil
	}
	start := time.Now()
	res, err := WaitReadyOrBlocked(context.Background(), capture, 30*time.Second)
	if err != nil {
		t.Fatalf("WaitReadyOrBlocked() failed: %v", err)
	}
	if res.Ready || res.Blocked != "theme-picker" {
		t.Errorf("result = %+v, want blocked theme-picker", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("blocking state should end the wait immediately, not ride out the timeout")
	}
}

func TestWaitReady_PropagatesOtherErrors(t *testing.T) {
	boom := errors.New("capture exploded")
	capture := func(int) (string, error) { return "", boom }
	if _, err := WaitReady(context.Background(), capture, time.Second); !errors.Is(err, boom) {
		t.Errorf("WaitReady() = %v, want propagated error", err)
	}
}
