package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the snapshots in the directory",
	Long:  `Print every collection snapshot with its record count and the number of records carrying unconfirmed work.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		keys, err := store.Keys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no snapshots in %s\n", store.Dir())
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tRECORDS\tPENDING\tSAVED")
		for _, key := range keys {
			entry, ok := store.Entry(key)
			if !ok {
				// Written by something other than this store; decode it.
				snap, err := store.Load(cmd.Context(), key)
				if err != nil || snap == nil {
					fmt.Fprintf(w, "%s\t?\t?\t?\n", key)
					continue
				}
				entry.Records = len(snap.Records)
				for _, r := range snap.Records {
					if r.Unconfirmed() {
						entry.Pending++
					}
				}
				entry.SavedAt = snap.SavedAt
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", key, entry.Records, entry.Pending, entry.SavedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
