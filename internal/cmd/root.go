// Package cmd provides CLI commands for the swarm tool.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/config"
	"github.com/steveyegge/swarm/internal/engine"
	"github.com/steveyegge/swarm/internal/exitcode"
	"github.com/steveyegge/swarm/internal/registry"
)

var rootCmd = &cobra.Command{
	Use:     "swarm",
	Short:   "Swarm - process manager for AI agent CLIs",
	Version: Version,
	Long: `Swarm orchestrates multiple concurrent AI-agent CLIs as named workers,
each optionally running inside a detached tmux window and a dedicated git
worktree.

On top of the worker primitive sit two autonomous helpers: the ralph loop,
which re-invokes an agent across fresh context windows until a done-signal,
iteration cap, or failure budget is reached; and heartbeats, which inject
periodic nudges to recover from API rate limits.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// stateDirFlag overrides the state root (default ~/.swarm, or SWARM_STATE_DIR).
var stateDirFlag string

// Command group IDs - used by subcommands to organize help output.
const (
	GroupWorkers    = "workers"
	GroupRalph      = "ralph"
	GroupHeartbeats = "heartbeats"
	GroupDiag       = "diag"
)

func init() {
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupWorkers, Title: "Workers:"},
		&cobra.Group{ID: GroupRalph, Title: "Ralph Loops:"},
		&cobra.Group{ID: GroupHeartbeats, Title: "Heartbeats:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)

	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "State directory (default ~/.swarm)")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "swarm: error: %v\n", err)
		return codeFor(err)
	}
	return exitcode.Success
}

// codeFor maps an error to the exit-code contract: registry misses are 2,
// everything else 1 unless the error carries its own code.
func codeFor(err error) int {
	if errors.Is(err, registry.ErrWorkerNotFound) {
		return exitcode.ErrNotFound
	}
	return exitcode.Code(err)
}

// buildCommandPath walks the command hierarchy to build the full command
// path, e.g. "swarm ralph start".
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// requireSubcommand is the RunE for parent commands that need a subcommand.
// Without it, cobra silently shows help and exits 0 for unknown subcommands,
// masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}

// stateRoot resolves and prepares the state directory for a command run.
func stateRoot() (string, error) {
	root, err := config.StateRoot(stateDirFlag)
	if err != nil {
		return "", err
	}
	if err := config.EnsureStateRoot(root); err != nil {
		return "", err
	}
	return root, nil
}

// newEngine builds the lifecycle engine for a command run.
func newEngine() (*engine.Engine, string, error) {
	root, err := stateRoot()
	if err != nil {
		return nil, "", err
	}
	return engine.New(root), root, nil
}

// defaults loads config.toml from the state root, tolerating absence.
func defaults(root string) *config.Defaults {
	d, err := config.LoadDefaults(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swarm: warning: %v\n", err)
		return &config.Defaults{}
	}
	return d
}
