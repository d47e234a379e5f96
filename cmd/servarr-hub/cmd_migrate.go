package main

import (
	"github.com/spf13/cobra"

	"github.com/Pouzor/servarr-hub/internal/logging"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, sqlDB, err := setup()
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		logging.Info("Database is up to date")
		return nil
	},
}
