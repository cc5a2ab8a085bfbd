package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync/pkg/adapters/fs"
)

var watchCmd = &cobra.Command{
	Use:   "watch [pattern]",
	Short: "Stream snapshot changes until interrupted",
	Long:  `Print a line for every snapshot written or removed in the directory. pattern filters collection names with glob syntax (e.g. "todo*").`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		events, err := store.Watch(cmd.Context(), pattern)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "watching %s\n", store.Dir())
		for e := range events {
			c, _ := e.Payload.(fs.Change)
			fmt.Fprintf(out, "%s %-6s %s\n", time.UnixMilli(e.Timestamp).Format(time.TimeOnly), c.Op, c.Key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
