package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/Pouzor/servarr-hub/internal/connectors"
	"github.com/Pouzor/servarr-hub/internal/reconcile"
	"github.com/Pouzor/servarr-hub/internal/types"
)

var syncTest string

func init() {
	syncCmd.Flags().StringVar(&syncTest, "test", "", "only test connectivity to the named source")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, sqlDB, err := setup()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if _, err := reconcile.SeedServices(ctx, sqlDB, cfg.Services); err != nil {
			return fmt.Errorf("seed services: %w", err)
		}
		factory := connectors.NewFactory(connectors.Options{Timeout: cfg.ConnectorTimeout})
		engine := reconcile.New(sqlDB, factory, reconcile.OptionsFromConfig(cfg))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if syncTest != "" {
			src, ok := types.ParseSource(syncTest)
			if !ok {
				return fmt.Errorf("unknown source %q", syncTest)
			}
			success, msg, err := engine.TestConnection(ctx, src)
			if err != nil && msg == "" {
				return err
			}
			return enc.Encode(map[string]any{"source": src, "success": success, "message": msg})
		}

		res := engine.SyncAll(ctx)
		if err := enc.Encode(res); err != nil {
			return err
		}
		if n := res.Failed(); n > 0 {
			return fmt.Errorf("%d of %d sources failed", n, len(res.Sources))
		}
		return nil
	},
}
