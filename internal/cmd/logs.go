package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logsStderrFlag bool
	logsTailFlag   int
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVar(&logsStderrFlag, "stderr", false, "Show the stderr log instead of stdout")
	logsCmd.Flags().IntVarP(&logsTailFlag, "tail", "n", 0, "Only show the last N lines")
}

var logsCmd = &cobra.Command{
	Use:     "logs <name>",
	GroupID: GroupWorkers,
	Short:   "Show a process worker's captured output",
	Long: `Logs prints the stdout (or, with --stderr, the stderr) log of a worker
spawned in process mode. Mux workers write to their pane instead; use
'swarm attach' to see them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		w, err := eng.Registry.Get(args[0])
		if err != nil {
			return err
		}
		if w.Mux != nil {
			return fmt.Errorf("worker %s runs in tmux (%s:%s); use 'swarm attach %s'", w.Name, w.Mux.Session, w.Mux.Window, w.Name)
		}

		stdoutPath, stderrPath := eng.LogPaths(w.Name)
		path := stdoutPath
		if logsStderrFlag {
			path = stderrPath
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading log: %w", err)
		}
		content := string(data)
		if logsTailFlag > 0 {
			lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
			if len(lines) > logsTailFlag {
				lines = lines[len(lines)-logsTailFlag:]
			}
			content = strings.Join(lines, "\n") + "\n"
		}
		fmt.Print(content)
		return nil
	},
}
