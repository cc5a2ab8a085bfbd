package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <collection> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		c, err := eng.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rec, ok := c.Doc(args[1])
		if !ok {
			return fmt.Errorf("no record %q in %s", args[1], args[0])
		}
		return report(cmd, "rm", rec, c.Delete(cmd.Context(), &rec))
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
