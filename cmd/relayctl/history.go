// cmd/relayctl/history.go
package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Dump a user's history in the current scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Cleanup()

		sessions := a.Sessions()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			st, err := sessions.History(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		chunks, err := sessions.HistoryView(args[0])
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			fmt.Fprintln(cmd.OutOrStdout(), chunk)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("json", false, "Print the raw conversation state")
	rootCmd.AddCommand(historyCmd)
}
