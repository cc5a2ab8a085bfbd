package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	listOutput  string
	listPending bool
)

var listCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "Print the records of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		snap, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no snapshot for %q in %s", args[0], store.Dir())
		}

		records := snap.Records[:0:0]
		for _, r := range snap.Records {
			if listPending && !r.Unconfirmed() {
				continue
			}
			records = append(records, r)
		}

		out := cmd.OutOrStdout()
		switch listOutput {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		case "yaml":
			enc := yaml.NewEncoder(out)
			defer enc.Close()
			return enc.Encode(records)
		case "text", "":
			for _, r := range records {
				title := ""
				if t, ok := r.Data["title"].(string); ok {
					title = "- " + t
				}
				state := ""
				if r.Unconfirmed() {
					state = " (pending)"
				}
				fmt.Fprintf(out, "%s %s%s\n", r.Key(), title, state)
			}
			return nil
		default:
			return fmt.Errorf("unknown output %q (want text, json or yaml)", listOutput)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "text", "Output format: text, json or yaml")
	listCmd.Flags().BoolVar(&listPending, "pending", false, "Only records with unconfirmed work")
}
