package ralph

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{9, 256 * time.Second},
		{10, 300 * time.Second},
		{50, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(tt.failures); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestAverageIterationSeconds(t *testing.T) {
	l := &Loop{}
	if got := l.AverageIterationSeconds(); got != 0 {
		t.Errorf("empty average = %v, want 0", got)
	}
	l.IterationDurations = []float64{10, 20, 30}
	if got := l.AverageIterationSeconds(); got != 20 {
		t.Errorf("average = %v, want 20", got)
	}
}

func TestTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusRunning: false,
		StatusPaused:  false,
		StatusStopped: true,
		StatusFailed:  true,
	} {
		l := &Loop{Status: status}
		if l.Terminal() != want {
			t.Errorf("Terminal() for %s = %v, want %v", status, l.Terminal(), want)
		}
	}
}
