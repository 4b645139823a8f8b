package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/specforge/internal/config"
	"github.com/suPer8Hu/specforge/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the projects and agent_runs tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		gdb, err := db.Open(cfg.DBDSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(gdb); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}
