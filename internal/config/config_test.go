package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStateRoot_FlagWins(t *testing.T) {
	t.Setenv("SWARM_STATE_DIR", "/tmp/env-root")
	root, err := StateRoot("/tmp/flag-root")
	if err != nil {
		t.Fatalf("StateRoot() failed: %v", err)
	}
	if root != "/tmp/flag-root" {
		t.Errorf("StateRoot() = %q, want flag value", root)
	}
}

func TestStateRoot_EnvFallback(t *testing.T) {
	t.Setenv("SWARM_STATE_DIR", "/tmp/env-root")
	root, err := StateRoot("")
	if err != nil {
		t.Fatalf("StateRoot() failed: %v", err)
	}
	if root != "/tmp/env-root" {
		t.Errorf("StateRoot() = %q, want env value", root)
	}
}

func TestStateRoot_HomeDefault(t *testing.T) {
	t.Setenv("SWARM_STATE_DIR", "")
	root, err := StateRoot("")
	if err != nil {
		t.Fatalf("StateRoot() failed: %v", err)
	}
	home, _ := os.UserHomeDir()
	if root != filepath.Join(home, ".swarm") {
		t.Errorf("StateRoot() = %q, want ~/.swarm", root)
	}
}

func TestEnsureStateRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	if err := EnsureStateRoot(root); err != nil {
		t.Fatalf("EnsureStateRoot() failed: %v", err)
	}
	for _, dir := range []string{"logs", "ralph", "heartbeats"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("missing %s: %v", dir, err)
		}
	}
}

func TestLoadDefaults_Missing(t *testing.T) {
	d, err := LoadDefaults(t.TempDir())
	if err != nil {
		t.Fatalf("LoadDefaults() failed on missing file: %v", err)
	}
	if d.Ralph.MaxIterations != 0 {
		t.Errorf("expected zero defaults, got %+v", d)
	}
}

func TestLoadDefaults_Parses(t *testing.T) {
	root := t.TempDir()
	content := `
[ralph]
max_iterations = 50
inactivity_timeout_seconds = 90

[heartbeat]
interval_seconds = 600
message = "keep going"

[mux]
socket = "ci"
`
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadDefaults(root)
	if err != nil {
		t.Fatalf("LoadDefaults() failed: %v", err)
	}
	if d.Ralph.MaxIterations != 50 {
		t.Errorf("MaxIterations = %d, want 50", d.Ralph.MaxIterations)
	}
	if d.Ralph.InactivityTimeoutSeconds != 90 {
		t.Errorf("InactivityTimeoutSeconds = %d, want 90", d.Ralph.InactivityTimeoutSeconds)
	}
	if d.Heartbeat.IntervalSeconds != 600 || d.Heartbeat.Message != "keep going" {
		t.Errorf("heartbeat defaults = %+v", d.Heartbeat)
	}
	if d.Mux.Socket != "ci" {
		t.Errorf("Socket = %q, want ci", d.Mux.Socket)
	}
}

func TestLoadDefaults_Malformed(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte("not toml ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDefaults(root); err == nil {
		t.Error("expected error for malformed config")
	}
}
