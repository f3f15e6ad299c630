package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metaform/metaform-management/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations of the sql backend",
	Long: `Creates the socket_data table. Concurrent runs are serialized by the configured
migration lock; a process that finds the lock taken waits for it and exits without
migrating.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context(), cmd, func(cfg *config.Config) {
			cfg.Migrations.Auto = false
		})
		if err != nil {
			return err
		}
		defer svc.Close()

		applied, err := svc.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to migrate.")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
