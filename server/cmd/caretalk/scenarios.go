package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the practice scenarios in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, cat := range catalog.Categories() {
			fmt.Fprintf(out, "%s\n", cat)
			for _, sc := range catalog.Scenarios() {
				if sc.Category != cat {
					continue
				}
				set, err := catalog.NewCheckpointSet(sc.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-28s %s (%d Gesprächsziele)\n", sc.ID, sc.Title, len(set))
			}
		}
		return nil
	},
}
