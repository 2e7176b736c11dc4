package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/engine"
	"github.com/steveyegge/swarm/internal/heartbeat"
)

var (
	killRmWorktreeFlag bool
	killForceDirtyFlag bool
)

func init() {
	rootCmd.AddCommand(killCmd)
	killCmd.Flags().BoolVar(&killRmWorktreeFlag, "rm-worktree", false, "Also remove the worker's worktree")
	killCmd.Flags().BoolVar(&killForceDirtyFlag, "force-dirty", false, "Discard uncommitted changes when removing the worktree")
}

var killCmd = &cobra.Command{
	Use:     "kill <name>...",
	GroupID: GroupWorkers,
	Short:   "Stop one or more workers",
	Long: `Kill stops workers gracefully, then forcefully: mux workers lose their
window; process workers get SIGTERM, a 5-second grace period, then SIGKILL.

The registry record stays (status=stopped) so logs and history remain
inspectable; use 'swarm clean' to drop it. Repeated kills are harmless.

A worktree with uncommitted changes survives --rm-worktree with a warning;
add --force-dirty to discard the changes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		opts := engine.KillOptions{
			RemoveWorktree: killRmWorktreeFlag,
			ForceDirty:     killForceDirtyFlag,
		}
		hbStore := heartbeat.NewStore(root)
		for _, name := range args {
			if err := eng.Kill(name, opts); err != nil {
				return err
			}
			// Stores are independent; the kill→heartbeat-stop invariant is
			// enforced here, not by the registry.
			if _, err := hbStore.Update(name, func(h *heartbeat.Heartbeat) {
				h.Status = heartbeat.StatusStopped
			}); err != nil && !errors.Is(err, heartbeat.ErrHeartbeatNotFound) {
				fmt.Fprintln(cmd.ErrOrStderr(), "swarm: warning: stopping heartbeat:", err)
			}
			fmt.Printf("killed %s\n", name)
		}
		return nil
	},
}
