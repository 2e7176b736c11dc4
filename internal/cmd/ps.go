package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/exitcode"
	"github.com/steveyegge/swarm/internal/registry"
	"github.com/steveyegge/swarm/internal/style"
)

var (
	psTagFlag  string
	psJSONFlag bool
)

func init() {
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(statusCmd)
	psCmd.Flags().StringVarP(&psTagFlag, "tag", "t", "", "Only show workers with this tag")
	psCmd.Flags().BoolVar(&psJSONFlag, "json", false, "Emit records as JSON")
}

var psCmd = &cobra.Command{
	Use:     "ps",
	Aliases: []string{"ls"},
	GroupID: GroupWorkers,
	Short:   "List workers with live status",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		workers, err := eng.Registry.List()
		if err != nil {
			return err
		}

		var rows []*registry.Worker
		for _, w := range workers {
			if psTagFlag != "" && !w.HasTag(psTagFlag) {
				continue
			}
			// Refresh against reality for display only; listing is a read.
			w.Status = eng.RefreshStatus(w)
			rows = append(rows, w)
		}

		if psJSONFlag {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		if len(rows) == 0 {
			fmt.Println("no workers")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, style.Header.Render("NAME")+"\t"+style.Header.Render("STATUS")+"\t"+style.Header.Render("WHERE")+"\t"+style.Header.Render("UPTIME")+"\t"+style.Header.Render("TAGS"))
		for _, w := range rows {
			where := "-"
			switch {
			case w.Mux != nil:
				where = w.Mux.Session + ":" + w.Mux.Window
			case w.PID != nil:
				where = fmt.Sprintf("pid %d", *w.PID)
			}
			uptime := "-"
			if w.Status == registry.StatusRunning {
				uptime = time.Since(w.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				w.Name,
				style.ForStatus(string(w.Status)).Render(string(w.Status)),
				where,
				uptime,
				strings.Join(w.Tags, ","))
		}
		return tw.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <name>",
	GroupID: GroupWorkers,
	Short:   "Report one worker's status via the exit code",
	Long: `Status prints a worker's current state and signals it through the exit
code: 0 running, 1 stopped, 2 not found. Scripts branch on the code without
parsing output.`,
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
		current := eng.RefreshStatus(w)
		fmt.Printf("%s: %s\n", w.Name, current)
		if current != registry.StatusRunning {
			return exitcode.Newf(exitcode.ErrGeneral, "worker %s is %s", w.Name, current)
		}
		return nil
	},
}
