// cmd/relayctl/scenarios.go
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Corphon/SceneRelay/internal/services"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List valid scenarios",
	Long:  "List the scenarios in SCENARIOS_DIR that pass validation. Invalid files are skipped with a warning.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, err := services.NewScenarioService(cfg.ScenariosDir)
		if err != nil {
			return err
		}

		list, err := svc.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no scenarios in %s\n", cfg.ScenariosDir)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWORLD\tCHARACTERS\tDESCRIPTION")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s %s\t%d\t%s\n", s.ID, s.Emoji, s.Name, s.Characters, s.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
}
