package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/exitcode"
	"github.com/steveyegge/swarm/internal/registry"
)

var waitTimeoutFlag int

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().IntVar(&waitTimeoutFlag, "timeout", 0, "Give up after this many seconds (0 = wait forever)")
}

var waitCmd = &cobra.Command{
	Use:     "wait <name>...",
	GroupID: GroupWorkers,
	Short:   "Block until workers stop",
	Long: `Wait polls the named workers until all of them are stopped. With
--timeout, workers still running when it expires are reported and the exit
code is 1.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		var deadline time.Time
		if waitTimeoutFlag > 0 {
			deadline = time.Now().Add(time.Duration(waitTimeoutFlag) * time.Second)
		}

		pending := make(map[string]bool, len(args))
		for _, name := range args {
			if _, err := eng.Registry.Get(name); err != nil {
				return err
			}
			pending[name] = true
		}

		for len(pending) > 0 {
			for name := range pending {
				w, err := eng.Registry.Get(name)
				if err != nil {
					return err
				}
				if eng.RefreshStatus(w) == registry.StatusStopped {
					fmt.Printf("%s stopped\n", name)
					delete(pending, name)
				}
			}
			if len(pending) == 0 {
				break
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				var names []string
				for name := range pending {
					names = append(names, name)
				}
				return exitcode.Newf(exitcode.ErrGeneral, "timed out waiting for: %s", strings.Join(names, ", "))
			}
			time.Sleep(time.Second)
		}
		return nil
	},
}
