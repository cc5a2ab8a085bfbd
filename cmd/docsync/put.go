package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync/pkg/core"
)

var (
	putData    string
	putVariant string
	putField   string
)

var putCmd = &cobra.Command{
	Use:   "put <collection>",
	Short: "Create or update a record",
	Long: `put creates the record given by --data, or updates it when it carries
the identity field. With --field only that field is sent (unique). Without
a remote the change is stored locally and sent by a later push.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if putData == "" {
			return fmt.Errorf("--data is required")
		}
		var data core.Metadata
		if err := json.Unmarshal([]byte(putData), &data); err != nil {
			return fmt.Errorf("invalid --data: %w", err)
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		c, err := eng.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		opts := []core.Option{core.WithVariant(putVariant)}
		rec := c.New(data)
		switch {
		case putField != "":
			opts = append(opts, core.WithField(putField))
			err = c.Unique(cmd.Context(), &rec, opts...)
		default:
			err = c.Create(cmd.Context(), &rec, opts...)
		}
		return report(cmd, "put", rec, err)
	},
}

// report prints the outcome of a mutation. Errors that leave the change
// recorded locally are not fatal.
func report(cmd *cobra.Command, verb string, rec core.Record, err error) error {
	out := cmd.OutOrStdout()
	switch {
	case err == nil:
		fmt.Fprintf(out, "%s %s: confirmed\n", verb, rec.Key())
		return nil
	case errors.Is(err, core.ErrQueued), errors.Is(err, core.ErrNoTransport),
		errors.Is(err, core.ErrSoftFailure), errors.Is(err, core.ErrHardFailure):
		fmt.Fprintf(out, "%s %s: stored locally, pending (%v)\n", verb, rec.Key(), err)
		return nil
	default:
		return err
	}
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().StringVar(&putData, "data", "", "Record as a JSON object")
	putCmd.Flags().StringVar(&putVariant, "variant", "", "Endpoint variant appended to the verb")
	putCmd.Flags().StringVar(&putField, "field", "", "Send only this field (unique)")
}
