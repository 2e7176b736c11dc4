package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanAllFlag bool

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVarP(&cleanAllFlag, "all", "a", false, "Remove every stopped worker")
}

var cleanCmd = &cobra.Command{
	Use:     "clean [name...]",
	GroupID: GroupWorkers,
	Short:   "Remove stopped workers from the registry",
	Long: `Clean removes stopped workers' registry records. Running workers are
skipped with a warning; kill them first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cleanAllFlag && len(args) == 0 {
			return fmt.Errorf("name required (or --all)")
		}
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		removed, err := eng.Clean(args, cleanAllFlag)
		for _, name := range removed {
			fmt.Printf("removed %s\n", name)
		}
		return err
	},
}
