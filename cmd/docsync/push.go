package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync/pkg/core"
)

var pushCmd = &cobra.Command{
	Use:   "push <collection>",
	Short: "Replay the unconfirmed operations of a snapshot",
	Long: `Opening a collection replays every create, update, unique and delete
still recorded in its snapshot. push reports what the remote confirmed and
what is still pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRemote(); err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		before, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if before == nil {
			return fmt.Errorf("no snapshot for %q in %s", args[0], store.Dir())
		}
		pending := countUnconfirmed(before.Records)

		eng, err := openEngine()
		if err != nil {
			return err
		}
		// Start replays the snapshot; failures are logged and stay pending.
		c, err := eng.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		left := countUnconfirmed(c.Records())
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pushed, %d pending\n", args[0], pending-left, left)
		if left > 0 {
			return fmt.Errorf("%d records still pending", left)
		}
		return nil
	},
}

func countUnconfirmed(records []core.Record) int {
	n := 0
	for _, r := range records {
		if r.Unconfirmed() {
			n++
		}
	}
	return n
}

func init() {
	rootCmd.AddCommand(pushCmd)
}
