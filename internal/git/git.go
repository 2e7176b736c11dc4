// Package git wraps the git operations swarm needs: repository probing,
// worktree add/remove, and porcelain-status dirty detection.
package git

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Common errors.
var (
	// ErrNotARepository means the base path is not inside a git repository.
	ErrNotARepository = errors.New("not a git repository")
)

// DirtyWorktreeError blocks removal of a worktree with uncommitted state.
type DirtyWorktreeError struct {
	Path        string
	ChangeCount int
}

func (e *DirtyWorktreeError) Error() string {
	return fmt.Sprintf("worktree %s has %d uncommitted change(s)", e.Path, e.ChangeCount)
}

// GitError carries the raw output of a failed git command.
type GitError struct {
	Command string
	Args    []string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", e.Command, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Git wraps git operations rooted at a working directory.
type Git struct {
	workDir string
}

// NewGit creates a wrapper that runs git commands in workDir.
func NewGit(workDir string) *Git {
	return &Git{workDir: workDir}
}

// WorkDir returns the working directory.
func (g *Git) WorkDir() string {
	return g.workDir
}

// run executes a git command and returns stdout.
func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if g.workDir != "" {
		cmd.Dir = g.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", g.wrapError(err, stdout.String(), stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapError wraps git failures with their raw output for diagnosis.
func (g *Git) wrapError(err error, stdout, stderr string, args []string) error {
	command := ""
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			command = arg
			break
		}
	}
	if command == "" && len(args) > 0 {
		command = args[0]
	}
	return &GitError{
		Command: command,
		Args:    args,
		Stdout:  strings.TrimSpace(stdout),
		Stderr:  strings.TrimSpace(stderr),
		Err:     err,
	}
}

// IsRepo reports whether the working directory is inside a git repository.
func (g *Git) IsRepo() bool {
	out, err := g.run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Root returns the top-level directory of the repository.
func (g *Git) Root() (string, error) {
	out, err := g.run("rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotARepository, g.workDir)
	}
	return out, nil
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(name string) (bool, error) {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) && gitErr.Stderr == "" {
			// show-ref exits 1 with no output when the ref is absent.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WorktreeAdd creates a worktree at path, creating branch if absent and
// reusing it if present.
func (g *Git) WorktreeAdd(path, branch string) error {
	exists, err := g.BranchExists(branch)
	if err != nil {
		return fmt.Errorf("checking branch %s: %w", branch, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating worktree parent: %w", err)
	}
	if exists {
		_, err = g.run("worktree", "add", path, branch)
	} else {
		_, err = g.run("worktree", "add", "-b", branch, path)
	}
	return err
}

// WorktreeRemove removes the worktree at path. Absent paths succeed
// idempotently; a dirty worktree is refused with DirtyWorktreeError unless
// force is set.
func (g *Git) WorktreeRemove(path string, force bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Still prune any stale administrative entry.
		_, _ = g.run("worktree", "prune")
		return nil
	}

	if !force {
		count, err := g.ChangeCount(path)
		if err != nil {
			// Fail-safe: unreadable status counts as dirty.
			return &DirtyWorktreeError{Path: path, ChangeCount: 1}
		}
		if count > 0 {
			return &DirtyWorktreeError{Path: path, ChangeCount: count}
		}
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := g.run(args...); err != nil {
		if !force {
			return err
		}
		// Forced removal falls back to deleting the directory outright;
		// prune clears the leftover administrative entry.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("removing worktree directory: %w", rmErr)
		}
		_, _ = g.run("worktree", "prune")
	}
	return nil
}

// ChangeCount returns the number of porcelain-status entries (staged,
// unstaged, and untracked-but-not-ignored) in the worktree at path.
func (g *Git) ChangeCount(path string) (int, error) {
	wt := NewGit(path)
	out, err := wt.run("status", "--porcelain")
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// IsDirty reports whether the worktree at path has any uncommitted state.
// Fail-safe: adapter errors report dirty so nothing destructive proceeds.
func (g *Git) IsDirty(path string) bool {
	count, err := g.ChangeCount(path)
	if err != nil {
		return true
	}
	return count > 0
}

// DefaultWorktreePath computes where a worker's worktree lives when no
// explicit path is given: <parent_of_base_repo>/<base_repo_name>-worktrees/<worker>.
func DefaultWorktreePath(baseRepo, workerName string) string {
	abs, err := filepath.Abs(baseRepo)
	if err != nil {
		abs = baseRepo
	}
	parent := filepath.Dir(abs)
	return filepath.Join(parent, filepath.Base(abs)+"-worktrees", workerName)
}
