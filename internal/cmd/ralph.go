package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/engine"
	"github.com/steveyegge/swarm/internal/git"
	"github.com/steveyegge/swarm/internal/ralph"
	"github.com/steveyegge/swarm/internal/style"
)

var (
	ralphPromptFlag      string
	ralphMaxIterFlag     int
	ralphDoneFlag        string
	ralphInactivityFlag  int
	ralphCheckDoneFlag   bool
	ralphWorktreeFlag    bool
	ralphRepoFlag        string
	ralphBranchFlag      string
	ralphEnvFlag         []string
	ralphSessionFlag     string
	ralphSocketFlag      string
	ralphReadySecsFlag   int
)

func init() {
	rootCmd.AddCommand(ralphCmd)
	ralphCmd.AddCommand(ralphStartCmd, ralphStatusCmd, ralphPauseCmd, ralphResumeCmd, ralphStopCmd)

	ralphStartCmd.Flags().StringVarP(&ralphPromptFlag, "prompt", "p", "", "Prompt file injected each iteration (required)")
	ralphStartCmd.Flags().IntVarP(&ralphMaxIterFlag, "max-iterations", "m", 0, "Iteration cap (required unless set in config.toml)")
	ralphStartCmd.Flags().StringVar(&ralphDoneFlag, "done-pattern", "", "Regex that ends the loop when it appears in agent output")
	ralphStartCmd.Flags().IntVar(&ralphInactivityFlag, "inactivity-timeout", 0, "Seconds of unchanged screen before restart (default 180)")
	ralphStartCmd.Flags().BoolVar(&ralphCheckDoneFlag, "check-done-continuous", false, "Check the done pattern during monitoring, not only at iteration end")
	ralphStartCmd.Flags().BoolVarP(&ralphWorktreeFlag, "worktree", "w", false, "Run the agent in a dedicated git worktree")
	ralphStartCmd.Flags().StringVar(&ralphRepoFlag, "repo", "", "Base repository for the worktree (default: current directory)")
	ralphStartCmd.Flags().StringVar(&ralphBranchFlag, "branch", "", "Worktree branch (default swarm/<name>)")
	ralphStartCmd.Flags().StringArrayVarP(&ralphEnvFlag, "env", "e", nil, "Environment entries as KEY=VAL (repeatable)")
	ralphStartCmd.Flags().StringVar(&ralphSessionFlag, "session", "", "tmux session override")
	ralphStartCmd.Flags().StringVar(&ralphSocketFlag, "socket", "", "tmux socket name")
	ralphStartCmd.Flags().IntVar(&ralphReadySecsFlag, "ready-timeout", 0, "Seconds to wait for agent readiness per iteration (default 120)")
	_ = ralphStartCmd.MarkFlagRequired("prompt")
}

var ralphCmd = &cobra.Command{
	Use:     "ralph",
	GroupID: GroupRalph,
	Short:   "Run an agent in an autonomous restart loop",
	Long: `Ralph re-invokes an agent across fresh context windows: each iteration
re-reads the prompt file, injects it, and watches the pane. When the screen
goes quiet, the agent is restarted with a clean context; state persists in
the worktree and on disk, not in the conversation.

The loop ends when the done pattern appears, the iteration cap is reached,
or five consecutive iterations fail (with 1s/2s/4s/... backoff in between,
capped at 300s).`,
	RunE: requireSubcommand,
}

var ralphStartCmd = &cobra.Command{
	Use:   "start <name> -- <command> [args...]",
	Short: "Start a new ralph loop",
	Long: `Start spawns the worker (readiness-waited) and drives the loop in the
foreground. Run it inside tmux or under nohup for long sessions.

If the prompt file contains the done pattern literally, the loop still
completes at least one full iteration: done checks only look at output that
appeared after the injected prompt.

Example:
  swarm ralph start fixer -p PROMPT.md -m 25 --done-pattern '/swarm-end' \
      --check-done-continuous -w -- claude --dangerously-skip-permissions`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		command := args[1:]

		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		d := defaults(root)

		env, err := config.ParseEnvEntries(ralphEnvFlag)
		if err != nil {
			return err
		}

		maxIter := ralphMaxIterFlag
		if maxIter == 0 {
			maxIter = d.Ralph.MaxIterations
		}
		if maxIter <= 0 {
			return fmt.Errorf("--max-iterations is required")
		}
		inactivity := ralphInactivityFlag
		if inactivity == 0 {
			inactivity = d.Ralph.InactivityTimeoutSeconds
		}
		done := ralphDoneFlag
		if done == "" {
			done = d.Ralph.DonePattern
		}

		opts := ralph.StartOptions{
			WorkerName:          name,
			PromptFile:          ralphPromptFlag,
			Command:             command,
			MaxIterations:       maxIter,
			DonePattern:         done,
			CheckDoneContinuous: ralphCheckDoneFlag,
			Env:                 env,
			Tags:                []string{"ralph"},
			Session:             firstNonEmpty(ralphSessionFlag, d.Mux.Session),
			Socket:              firstNonEmpty(ralphSocketFlag, d.Mux.Socket),
		}
		if inactivity > 0 {
			opts.InactivityTimeout = time.Duration(inactivity) * time.Second
		}
		if ralphReadySecsFlag > 0 {
			opts.ReadyTimeout = time.Duration(ralphReadySecsFlag) * time.Second
		}
		if ralphWorktreeFlag {
			baseRepo := ralphRepoFlag
			if baseRepo == "" {
				repoRoot, err := git.NewGit(".").Root()
				if err != nil {
					return err
				}
				baseRepo = repoRoot
			}
			opts.Worktree = &engine.WorktreeConfig{BaseRepo: baseRepo, Branch: ralphBranchFlag}
		}

		runner := ralph.NewRunner(ralph.NewStore(root), eng)
		return runner.Start(cmd.Context(), opts)
	},
}

var ralphStatusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show loop progress and ETA",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, root, err := newEngine()
		if err != nil {
			return err
		}
		store := ralph.NewStore(root)

		names := args
		if len(names) == 0 {
			names, err = store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no ralph loops")
				return nil
			}
		}

		for _, name := range names {
			l, err := store.Get(name)
			if err != nil {
				return err
			}
			status := style.ForStatus(string(l.Status)).Render(string(l.Status))
			fmt.Printf("%s: %s  iteration %d/%d  failures %d (consecutive %d)\n",
				l.WorkerName, status, l.CurrentIteration, l.MaxIterations, l.TotalFailures, l.ConsecutiveFailures)
			if avg := l.AverageIterationSeconds(); avg > 0 && l.Status == ralph.StatusRunning {
				remaining := float64(l.MaxIterations-l.CurrentIteration) * avg
				fmt.Printf("  avg iteration %s, about %s to the cap\n",
					time.Duration(avg*float64(time.Second)).Round(time.Second),
					time.Duration(remaining*float64(time.Second)).Round(time.Second))
			}
			if l.ExitReason != "" {
				fmt.Printf("  exit reason: %s\n", l.ExitReason)
			}
		}
		return nil
	},
}

var ralphPauseCmd = &cobra.Command{
	Use:   "pause <name>",
	Short: "Pause a loop after the current iteration",
	Long: `Pause marks the loop paused. The running agent is not interrupted; once
it exits or goes inactive, the monitor stops re-spawning until resume.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, root, err := newEngine()
		if err != nil {
			return err
		}
		store := ralph.NewStore(root)
		if _, err := store.Update(args[0], func(l *ralph.Loop) {
			l.Status = ralph.StatusPaused
		}); err != nil {
			return err
		}
		fmt.Printf("paused %s\n", args[0])
		return nil
	},
}

var ralphResumeCmd = &cobra.Command{
	Use:   "resume <name> [-- <command> [args...]]",
	Short: "Resume a paused or disconnected loop",
	Long: `Resume continues a paused loop, spawning a fresh worker for the next
iteration. It also reattaches to a loop whose monitor died: a record still
marked running with no live monitor gets exit_reason=monitor_disconnected
before the new monitor takes over.

The agent command is needed only if the worker's window no longer exists.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		opts := ralph.StartOptions{WorkerName: args[0]}
		if len(args) > 1 {
			opts.Command = args[1:]
		} else if w, err := eng.Registry.Get(args[0]); err == nil {
			opts.Command = w.Command
		} else {
			return fmt.Errorf("worker %s has no record; pass the agent command after --", args[0])
		}
		runner := ralph.NewRunner(ralph.NewStore(root), eng)
		return runner.Resume(cmd.Context(), opts)
	},
}

var ralphStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a loop and kill its worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		store := ralph.NewStore(root)
		if _, err := store.Update(args[0], func(l *ralph.Loop) {
			l.Status = ralph.StatusStopped
			l.ExitReason = ralph.ExitKilled
		}); err != nil {
			return err
		}
		if err := eng.Kill(args[0], engine.KillOptions{}); err != nil {
			fmt.Printf("stopped loop %s (worker already gone)\n", args[0])
			return nil
		}
		fmt.Printf("stopped loop and worker %s\n", args[0])
		return nil
	},
}
