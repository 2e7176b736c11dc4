package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/engine"
)

var (
	respawnCleanFlag     bool
	respawnWaitReadyFlag bool
	respawnReadySecsFlag int
)

func init() {
	rootCmd.AddCommand(respawnCmd)
	respawnCmd.Flags().BoolVar(&respawnCleanFlag, "clean-first", false, "Remove and recreate the worktree before restarting")
	respawnCmd.Flags().BoolVar(&respawnWaitReadyFlag, "wait-ready", false, "Wait for the agent's ready prompt after restarting")
	respawnCmd.Flags().IntVar(&respawnReadySecsFlag, "ready-timeout", 0, "Seconds to wait for readiness (default 120)")
}

var respawnCmd = &cobra.Command{
	Use:     "respawn <name>",
	GroupID: GroupWorkers,
	Short:   "Restart a worker with its original configuration",
	Long: `Respawn kills the worker if it is still running and starts it again with
the same command, environment, tags, working directory, session, and
worktree. The record is replaced with a fresh one (new started_at, new
window or pid).

--clean-first recreates the worktree on the same branch, discarding the old
checkout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		opts := engine.RespawnOptions{
			CleanFirst: respawnCleanFlag,
			WaitReady:  respawnWaitReadyFlag,
		}
		if respawnReadySecsFlag > 0 {
			opts.ReadyTimeout = time.Duration(respawnReadySecsFlag) * time.Second
		}
		w, err := eng.Respawn(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		fmt.Printf("respawned %s\n", w.Name)
		return nil
	},
}
