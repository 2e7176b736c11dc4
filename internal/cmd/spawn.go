package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/engine"
	"github.com/steveyegge/swarm/internal/git"
)

var (
	spawnProcessFlag   bool
	spawnCwdFlag       string
	spawnEnvFlag       []string
	spawnTagsFlag      []string
	spawnWorktreeFlag  bool
	spawnRepoFlag      string
	spawnBranchFlag    string
	spawnWtPathFlag    string
	spawnSessionFlag   string
	spawnSocketFlag    string
	spawnWaitReadyFlag bool
	spawnReadySecsFlag int
)

func init() {
	rootCmd.AddCommand(spawnCmd)
	spawnCmd.Flags().BoolVar(&spawnProcessFlag, "process", false, "Run as a bare background process instead of a tmux window")
	spawnCmd.Flags().StringVar(&spawnCwdFlag, "cwd", "", "Working directory for the command")
	spawnCmd.Flags().StringArrayVarP(&spawnEnvFlag, "env", "e", nil, "Environment entries as KEY=VAL (repeatable)")
	spawnCmd.Flags().StringSliceVarP(&spawnTagsFlag, "tag", "t", nil, "Tags for filtering (repeatable)")
	spawnCmd.Flags().BoolVarP(&spawnWorktreeFlag, "worktree", "w", false, "Create a dedicated git worktree for the worker")
	spawnCmd.Flags().StringVar(&spawnRepoFlag, "repo", "", "Base repository for the worktree (default: current directory)")
	spawnCmd.Flags().StringVar(&spawnBranchFlag, "branch", "", "Worktree branch (default swarm/<name>)")
	spawnCmd.Flags().StringVar(&spawnWtPathFlag, "worktree-path", "", "Worktree location override")
	spawnCmd.Flags().StringVar(&spawnSessionFlag, "session", "", "tmux session override (default: shared per-project session)")
	spawnCmd.Flags().StringVar(&spawnSocketFlag, "socket", "", "tmux socket name (selects a separate server)")
	spawnCmd.Flags().BoolVar(&spawnWaitReadyFlag, "wait-ready", false, "Wait for the agent's ready prompt after spawning")
	spawnCmd.Flags().IntVar(&spawnReadySecsFlag, "ready-timeout", 0, "Seconds to wait for readiness (default 120)")
}

var spawnCmd = &cobra.Command{
	Use:     "spawn <name> -- <command> [args...]",
	GroupID: GroupWorkers,
	Short:   "Start a named worker",
	Long: `Spawn starts a command as a named worker, by default inside a detached
window of the shared per-project tmux session. Multiple workers spawned from
the same state root appear as sibling windows.

Spawn is transactional: if the worktree, window, or registration fails, all
previously completed steps are rolled back before the error is reported.

Examples:
  swarm spawn builder -- claude --dangerously-skip-permissions
  swarm spawn tests --process -- go test ./...
  swarm spawn fixer -w --repo ~/src/app -- claude
  swarm spawn remote --socket ci -e API_URL=http://localhost:8080 -- claude`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		command := args[1:]

		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		d := defaults(root)

		env, err := config.ParseEnvEntries(spawnEnvFlag)
		if err != nil {
			return err
		}

		mode := engine.ModeMux
		if spawnProcessFlag {
			mode = engine.ModeProcess
		}

		opts := engine.SpawnOptions{
			Name:      name,
			Command:   command,
			Mode:      mode,
			Cwd:       spawnCwdFlag,
			Env:       env,
			Tags:      spawnTagsFlag,
			Session:   firstNonEmpty(spawnSessionFlag, d.Mux.Session),
			Socket:    firstNonEmpty(spawnSocketFlag, d.Mux.Socket),
			WaitReady: spawnWaitReadyFlag,
		}
		if spawnReadySecsFlag > 0 {
			opts.ReadyTimeout = time.Duration(spawnReadySecsFlag) * time.Second
		} else if d.Spawn.ReadyTimeoutSeconds > 0 {
			opts.ReadyTimeout = time.Duration(d.Spawn.ReadyTimeoutSeconds) * time.Second
		}

		if spawnWorktreeFlag {
			baseRepo := spawnRepoFlag
			if baseRepo == "" {
				repoRoot, err := git.NewGit(".").Root()
				if err != nil {
					return err
				}
				baseRepo = repoRoot
			}
			opts.Worktree = &engine.WorktreeConfig{
				BaseRepo: baseRepo,
				Branch:   spawnBranchFlag,
				Path:     spawnWtPathFlag,
			}
		}

		w, err := eng.Spawn(cmd.Context(), opts)
		if err != nil {
			return err
		}

		switch {
		case w.Mux != nil:
			fmt.Printf("spawned %s in %s:%s\n", w.Name, w.Mux.Session, w.Mux.Window)
		case w.PID != nil:
			fmt.Printf("spawned %s (pid %d)\n", w.Name, *w.PID)
		}
		return nil
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
