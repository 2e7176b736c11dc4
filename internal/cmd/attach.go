package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/tmux"
	"github.com/steveyegge/swarm/internal/ui"
)

func init() {
	rootCmd.AddCommand(attachCmd)
}

var attachCmd = &cobra.Command{
	Use:     "attach <name>",
	GroupID: GroupWorkers,
	Short:   "Attach the terminal to a worker's tmux window",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal() {
			return fmt.Errorf("attach requires a terminal")
		}
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		w, err := eng.Registry.Get(args[0])
		if err != nil {
			return err
		}
		if w.Mux == nil {
			return fmt.Errorf("worker %s is a process worker; use 'swarm logs %s'", w.Name, w.Name)
		}

		t := tmux.NewWithSocket(w.Mux.Socket)
		if err := t.SelectWindow(w.Mux.Session, w.Mux.Window); err != nil {
			return fmt.Errorf("selecting window: %w", err)
		}
		argv := t.AttachArgv(w.Mux.Session)
		attach := exec.Command(argv[0], argv[1:]...)
		attach.Stdin = os.Stdin
		attach.Stdout = os.Stdout
		attach.Stderr = os.Stderr
		return attach.Run()
	},
}
