package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/swarm/internal/heartbeat"
	"github.com/steveyegge/swarm/internal/style"
)

var (
	hbIntervalFlag int
	hbMessageFlag  string
	hbExpireFlag   int
	hbRunFlag      bool
)

func init() {
	rootCmd.AddCommand(heartbeatCmd)
	heartbeatCmd.AddCommand(hbStartCmd, hbListCmd, hbPauseCmd, hbResumeCmd, hbStopCmd, hbRunCmd)

	hbStartCmd.Flags().IntVarP(&hbIntervalFlag, "interval", "i", 0, "Seconds between beats (required unless set in config.toml)")
	hbStartCmd.Flags().StringVarP(&hbMessageFlag, "message", "m", "", "Message to inject (default: \"continue\")")
	hbStartCmd.Flags().IntVar(&hbExpireFlag, "expire", 0, "Stop beating after this many seconds (0 = never)")
	hbStartCmd.Flags().BoolVar(&hbRunFlag, "run", false, "Run the scheduler in the foreground after creating the heartbeat")
}

var heartbeatCmd = &cobra.Command{
	Use:     "heartbeat",
	Aliases: []string{"hb"},
	GroupID: GroupHeartbeats,
	Short:   "Periodic nudges for rate-limited workers",
	Long: `Heartbeats inject a short message into a worker's pane on a fixed cadence.
An agent parked on an API rate limit picks the work back up on the next beat
after the limit clears.

Heartbeat records persist in the state directory; 'swarm heartbeat run'
hosts the scheduler that delivers due beats for all active heartbeats.`,
	RunE: requireSubcommand,
}

var hbStartCmd = &cobra.Command{
	Use:   "start <worker>",
	Short: "Create a heartbeat for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		d := defaults(root)

		// The worker must exist and live in a mux window; process workers
		// have no pane to nudge.
		w, err := eng.Registry.Get(args[0])
		if err != nil {
			return err
		}
		if w.Mux == nil {
			return fmt.Errorf("worker %s is a process worker; heartbeats need a tmux pane", w.Name)
		}

		interval := hbIntervalFlag
		if interval == 0 {
			interval = d.Heartbeat.IntervalSeconds
		}
		if interval <= 0 {
			return fmt.Errorf("--interval is required")
		}
		message := hbMessageFlag
		if message == "" {
			message = d.Heartbeat.Message
		}
		if message == "" {
			message = "continue"
		}

		now := time.Now()
		h := &heartbeat.Heartbeat{
			WorkerName:      w.Name,
			IntervalSeconds: interval,
			Message:         message,
			CreatedAt:       now,
			Status:          heartbeat.StatusActive,
		}
		if hbExpireFlag > 0 {
			expire := now.Add(time.Duration(hbExpireFlag) * time.Second)
			h.ExpireAt = &expire
		}

		store := heartbeat.NewStore(root)
		if err := store.Create(h); err != nil {
			return err
		}
		fmt.Printf("heartbeat for %s every %ds\n", w.Name, interval)

		if hbRunFlag {
			return heartbeat.NewScheduler(store, eng).Run(cmd.Context())
		}
		fmt.Println("run 'swarm heartbeat run' to start delivering beats")
		return nil
	},
}

var hbRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the heartbeat scheduler in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, root, err := newEngine()
		if err != nil {
			return err
		}
		store := heartbeat.NewStore(root)
		return heartbeat.NewScheduler(store, eng).Run(cmd.Context())
	},
}

var hbListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List heartbeats",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, root, err := newEngine()
		if err != nil {
			return err
		}
		beats, err := heartbeat.NewStore(root).List()
		if err != nil {
			return err
		}
		if len(beats) == 0 {
			fmt.Println("no heartbeats")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, style.Header.Render("WORKER")+"\t"+style.Header.Render("STATUS")+"\t"+style.Header.Render("INTERVAL")+"\t"+style.Header.Render("BEATS")+"\t"+style.Header.Render("LAST BEAT"))
		for _, h := range beats {
			last := "-"
			if h.LastBeatAt != nil {
				last = time.Since(*h.LastBeatAt).Round(time.Second).String() + " ago"
			}
			fmt.Fprintf(tw, "%s\t%s\t%ds\t%d\t%s\n",
				h.WorkerName,
				style.ForStatus(string(h.Status)).Render(string(h.Status)),
				h.IntervalSeconds, h.BeatCount, last)
		}
		return tw.Flush()
	},
}

var hbPauseCmd = &cobra.Command{
	Use:   "pause <worker>",
	Short: "Pause a heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return hbTransition(args[0], heartbeat.StatusPaused) },
}

var hbResumeCmd = &cobra.Command{
	Use:   "resume <worker>",
	Short: "Resume a paused heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return hbTransition(args[0], heartbeat.StatusActive) },
}

var hbStopCmd = &cobra.Command{
	Use:   "stop <worker>",
	Short: "Stop a heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return hbTransition(args[0], heartbeat.StatusStopped) },
}

func hbTransition(worker string, status heartbeat.Status) error {
	_, root, err := newEngine()
	if err != nil {
		return err
	}
	if _, err := heartbeat.NewStore(root).Update(worker, func(h *heartbeat.Heartbeat) {
		h.Status = status
	}); err != nil {
		return err
	}
	fmt.Printf("heartbeat for %s: %s\n", worker, status)
	return nil
}
