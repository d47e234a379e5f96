package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Pouzor/servarr-hub/internal/config"
	"github.com/Pouzor/servarr-hub/internal/db"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "servarr-hub",
	Short:         "Playback analytics and *arr/Jellyfin reconciliation hub",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Current().String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "servarr-hub: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, installs the default logger and opens the
// migrated database.
func setup() (config.Config, *sql.DB, error) {
	cfg := config.Load()
	logging.SetDefault(logging.NewLogger(&logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}))

	sqlDB, err := db.Open(cfg.SQLitePath)
	if err != nil {
		return cfg, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.MigrateUp(sqlDB, cfg.SQLitePath); err != nil {
		_ = sqlDB.Close()
		return cfg, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, sqlDB, nil
}
