package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/swarm/internal/registry"
	"github.com/steveyegge/swarm/internal/testutil"
	"github.com/steveyegge/swarm/internal/tmux"
)

// testEngine builds an engine wired to in-memory doubles.
func testEngine(t *testing.T) (*Engine, *MuxDouble, *TreesDouble) {
	t.Helper()
	root := testutil.StateRoot(t)
	mux := NewMuxDouble()
	trees := NewTreesDouble()
	eng := New(root)
	eng.Mux = func(socket string) Multiplexer { return mux }
	eng.Trees = trees
	eng.Warnf = func(format string, args ...interface{}) { t.Logf("warn: "+format, args...) }
	return eng, mux, trees
}

func TestSpawn_MuxWorker(t *testing.T) {
	eng, mux, _ := testEngine(t)

	w, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:    "builder",
		Command: []string{"claude", "--verbose"},
		Mode:    ModeMux,
		Cwd:     "/tmp",
		Env:     map[string]string{"FOO": "bar"},
	})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	if w.Mux == nil || w.PID != nil {
		t.Fatalf("mux worker should have mux_info only: %+v", w)
	}
	if w.Mux.Window != "builder" {
		t.Errorf("window = %q, want builder", w.Mux.Window)
	}
	if w.Mux.Session != tmux.DefaultSession(eng.StateRoot) {
		t.Errorf("session = %q, want default shared session", w.Mux.Session)
	}

	exists, _ := mux.HasWindow(w.Mux.Session, "builder")
	if !exists {
		t.Error("window was not created")
	}

	got, err := eng.Registry.Get("builder")
	if err != nil {
		t.Fatalf("registry record missing: %v", err)
	}
	if got.Status != registry.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if eng.RefreshStatus(got) != registry.StatusRunning {
		t.Error("RefreshStatus() = stopped for a live window")
	}
}

func TestSpawn_EnvWrapsCommand(t *testing.T) {
	eng, mux, _ := testEngine(t)

	w, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:    "worker",
		Command: []string{"claude"},
		Mode:    ModeMux,
		Env:     map[string]string{"B": "2", "A": "1"},
	})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	mux.mu.Lock()
	win := mux.sessions[w.Mux.Session]["worker"]
	mux.mu.Unlock()
	if want := "env A=1 B=2 claude"; win.command != want {
		t.Errorf("command = %q, want %q", win.command, want)
	}
}

func TestSpawn_Validation(t *testing.T) {
	eng, _, _ := testEngine(t)

	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "", Command: []string{"x"}}); !errors.Is(err, ErrNameRequired) {
		t.Errorf("empty name: %v, want ErrNameRequired", err)
	}
	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "w", Command: nil}); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("empty command: %v, want ErrEmptyCommand", err)
	}
	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "bad name", Command: []string{"x"}}); !errors.Is(err, tmux.ErrInvalidName) {
		t.Errorf("invalid name: %v, want ErrInvalidName", err)
	}
}

func TestSpawn_DuplicateRejected(t *testing.T) {
	eng, _, _ := testEngine(t)

	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "dup", Command: []string{"x"}, Mode: ModeMux}); err != nil {
		t.Fatal(err)
	}
	_, err := eng.Spawn(context.Background(), SpawnOptions{Name: "dup", Command: []string{"x"}, Mode: ModeMux})
	if !errors.Is(err, registry.ErrWorkerExists) {
		t.Errorf("duplicate spawn = %v, want ErrWorkerExists", err)
	}

	workers, _ := eng.Registry.List()
	if len(workers) != 1 {
		t.Errorf("registry has %d records, want 1", len(workers))
	}
}

func TestSpawn_RollbackOnWindowFailure(t *testing.T) {
	eng, mux, trees := testEngine(t)
	trees.Repos["/repo"] = true
	mux.FailNewWindow = true

	_, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:     "doomed",
		Command:  []string{"claude"},
		Mode:     ModeMux,
		Worktree: &WorktreeConfig{BaseRepo: "/repo"},
	})
	if err == nil {
		t.Fatal("Spawn() should fail when the window can't be created")
	}

	// No residual record, no residual worktree.
	if _, err := eng.Registry.Get("doomed"); !errors.Is(err, registry.ErrWorkerNotFound) {
		t.Error("residual registry record after failed spawn")
	}
	if len(trees.Created) != 0 {
		t.Errorf("residual worktrees after rollback: %v", trees.Created)
	}
}

func TestSpawn_RegistryCollisionLeavesNoWindow(t *testing.T) {
	eng, mux, _ := testEngine(t)

	// Pre-seed the store with a record under the name about to be spawned.
	pid := 1
	if err := eng.Registry.Add(&registry.Worker{
		Name: "raced", Status: registry.StatusStopped, Command: []string{"x"},
		StartedAt: time.Now(), Cwd: "/", PID: &pid,
	}); err != nil {
		t.Fatal(err)
	}

	// The fast probe in Spawn sees the record and rejects the name before
	// any window is created; no window must remain.
	_, err := eng.Spawn(context.Background(), SpawnOptions{Name: "raced", Command: []string{"x"}, Mode: ModeMux})
	if !errors.Is(err, registry.ErrWorkerExists) {
		t.Fatalf("Spawn() = %v, want ErrWorkerExists", err)
	}

	session := tmux.DefaultSession(eng.StateRoot)
	if exists, _ := mux.HasWindow(session, "raced"); exists {
		t.Error("residual window after duplicate rejection")
	}
}

func TestSpawn_WorktreeNotARepo(t *testing.T) {
	eng, _, _ := testEngine(t)
	_, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:     "w",
		Command:  []string{"x"},
		Worktree: &WorktreeConfig{BaseRepo: "/not/a/repo"},
	})
	if err == nil || !strings.Contains(err.Error(), "not a git repository") {
		t.Errorf("Spawn() = %v, want not-a-repository", err)
	}
}

func TestSpawn_WorktreeDefaults(t *testing.T) {
	eng, _, trees := testEngine(t)
	trees.Repos["/src/app"] = true

	w, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:     "fixer",
		Command:  []string{"claude"},
		Mode:     ModeMux,
		Worktree: &WorktreeConfig{BaseRepo: "/src/app"},
	})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}

	if w.Worktree == nil {
		t.Fatal("worktree_info missing")
	}
	if w.Worktree.Branch != "swarm/fixer" {
		t.Errorf("branch = %q, want swarm/fixer", w.Worktree.Branch)
	}
	if w.Cwd != w.Worktree.Path {
		t.Errorf("cwd %q != worktree path %q", w.Cwd, w.Worktree.Path)
	}
	if trees.Created[w.Worktree.Path] != "swarm/fixer" {
		t.Errorf("worktree not created: %v", trees.Created)
	}
}

func TestKill_MuxWorkerIdempotent(t *testing.T) {
	eng, mux, _ := testEngine(t)
	w, err := eng.Spawn(context.Background(), SpawnOptions{Name: "victim", Command: []string{"x"}, Mode: ModeMux})
	if err != nil {
		t.Fatal(err)
	}

	if err := eng.Kill("victim", KillOptions{}); err != nil {
		t.Fatalf("Kill() failed: %v", err)
	}
	got, _ := eng.Registry.Get("victim")
	if got.Status != registry.StatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
	if exists, _ := mux.HasWindow(w.Mux.Session, "victim"); exists {
		t.Error("window survived kill")
	}

	// Kill never removes the record, and repeating it is harmless.
	if err := eng.Kill("victim", KillOptions{}); err != nil {
		t.Errorf("second Kill() failed: %v", err)
	}
	if _, err := eng.Registry.Get("victim"); err != nil {
		t.Error("kill should not remove the registry record")
	}
}

func TestKill_ReapsEmptySession(t *testing.T) {
	eng, mux, _ := testEngine(t)

	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "one", Command: []string{"x"}, Mode: ModeMux}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "two", Command: []string{"x"}, Mode: ModeMux}); err != nil {
		t.Fatal(err)
	}
	session := tmux.DefaultSession(eng.StateRoot)

	if err := eng.Kill("one", KillOptions{}); err != nil {
		t.Fatal(err)
	}
	if exists, _ := mux.HasSession(session); !exists {
		t.Error("session reaped while a sibling worker still runs")
	}

	if err := eng.Kill("two", KillOptions{}); err != nil {
		t.Fatal(err)
	}
	if exists, _ := mux.HasSession(session); exists {
		t.Error("session not reaped after the last worker died")
	}
}

func TestKill_DirtyWorktreeProtected(t *testing.T) {
	eng, _, trees := testEngine(t)
	trees.Repos["/src/app"] = true

	w, err := eng.Spawn(context.Background(), SpawnOptions{
		Name: "dirty", Command: []string{"x"}, Mode: ModeMux,
		Worktree: &WorktreeConfig{BaseRepo: "/src/app"},
	})
	if err != nil {
		t.Fatal(err)
	}
	trees.Dirty[w.Worktree.Path] = 2

	// Dirty protection: exit success, worktree kept.
	if err := eng.Kill("dirty", KillOptions{RemoveWorktree: true}); err != nil {
		t.Fatalf("Kill() with dirty worktree should warn, not fail: %v", err)
	}
	if _, ok := trees.Created[w.Worktree.Path]; !ok {
		t.Error("dirty worktree was removed without force")
	}

	// Force discards the changes.
	if err := eng.Kill("dirty", KillOptions{RemoveWorktree: true, ForceDirty: true}); err != nil {
		t.Fatalf("forced Kill() failed: %v", err)
	}
	if _, ok := trees.Created[w.Worktree.Path]; ok {
		t.Error("worktree survived --force-dirty")
	}
}

func TestProcessWorker_SpawnAndKill(t *testing.T) {
	eng, _, _ := testEngine(t)

	w, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:    "sleeper",
		Command: []string{"sleep", "3600"},
		Mode:    ModeProcess,
		Cwd:     "/tmp",
	})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	if w.PID == nil || w.Mux != nil {
		t.Fatalf("process worker should have pid only: %+v", w)
	}
	if eng.RefreshStatus(w) != registry.StatusRunning {
		t.Error("freshly spawned process reported stopped")
	}

	if err := eng.Kill("sleeper", KillOptions{}); err != nil {
		t.Fatalf("Kill() failed: %v", err)
	}
	got, _ := eng.Registry.Get("sleeper")
	if got.Status != registry.StatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
	// The PID probe can't distinguish a zombie child of this test process
	// from a live one (signal 0 succeeds for both), so liveness is asserted
	// via the registry record only. Real invocations exit immediately and
	// init reaps the worker.

	if err := eng.Kill("sleeper", KillOptions{}); err != nil {
		t.Errorf("repeated Kill() of a dead process failed: %v", err)
	}
}

func TestRespawn_PreservesConfiguration(t *testing.T) {
	eng, _, trees := testEngine(t)
	trees.Repos["/src/app"] = true

	orig, err := eng.Spawn(context.Background(), SpawnOptions{
		Name:    "phoenix",
		Command: []string{"claude", "--verbose"},
		Mode:    ModeMux,
		Env:     map[string]string{"KEY": "val"},
		Tags:    []string{"ralph"},
		Worktree: &WorktreeConfig{
			BaseRepo: "/src/app",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := eng.Respawn(context.Background(), "phoenix", RespawnOptions{})
	if err != nil {
		t.Fatalf("Respawn() failed: %v", err)
	}

	if fresh.Command[1] != "--verbose" || fresh.Env["KEY"] != "val" || len(fresh.Tags) != 1 {
		t.Errorf("respawn lost configuration: %+v", fresh)
	}
	if fresh.Worktree == nil || fresh.Worktree.Path != orig.Worktree.Path || fresh.Worktree.Branch != orig.Worktree.Branch {
		t.Errorf("respawn lost worktree: %+v", fresh.Worktree)
	}
	if fresh.Mux.Session != orig.Mux.Session {
		t.Errorf("respawn changed session: %s -> %s", orig.Mux.Session, fresh.Mux.Session)
	}
	if !fresh.StartedAt.After(orig.StartedAt) && !fresh.StartedAt.Equal(orig.StartedAt) {
		t.Errorf("respawn should refresh started_at")
	}
}

func TestClean_SkipsRunning(t *testing.T) {
	eng, _, _ := testEngine(t)

	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "live", Command: []string{"x"}, Mode: ModeMux}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Spawn(context.Background(), SpawnOptions{Name: "dead", Command: []string{"x"}, Mode: ModeMux}); err != nil {
		t.Fatal(err)
	}
	if err := eng.Kill("dead", KillOptions{}); err != nil {
		t.Fatal(err)
	}

	removed, err := eng.Clean(nil, true)
	if err != nil {
		t.Fatalf("Clean() failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "dead" {
		t.Errorf("Clean() removed %v, want [dead]", removed)
	}
	if _, err := eng.Registry.Get("live"); err != nil {
		t.Error("Clean() removed a running worker")
	}
}

func TestCommandLine_Quoting(t *testing.T) {
	got := CommandLine([]string{"claude", "--flag", "two words", "it's"})
	want := `claude --flag 'two words' 'it'\''s'`
	if got != want {
		t.Errorf("CommandLine() = %q, want %q", got, want)
	}
}
