package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/Pouzor/servarr-hub/internal/broadcaster"
	"github.com/Pouzor/servarr-hub/internal/connectors"
	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/monitors"
	"github.com/Pouzor/servarr-hub/internal/reconcile"
	"github.com/Pouzor/servarr-hub/internal/rollup"
	"github.com/Pouzor/servarr-hub/internal/scheduler"
	"github.com/Pouzor/servarr-hub/internal/server"
	"github.com/Pouzor/servarr-hub/internal/sessions"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, live feed, scheduler and host sampler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, sqlDB, err := setup()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seeded, err := reconcile.SeedServices(ctx, sqlDB, cfg.Services)
	if err != nil {
		return fmt.Errorf("seed services: %w", err)
	}
	if seeded > 0 {
		logging.Info("Seeded service configurations from environment", "count", seeded)
	}

	feed := broadcaster.NewNowBroadcaster(sqlDB, time.Duration(cfg.KeepAliveSec)*time.Second)
	events := sessions.NewEngine(sqlDB, rollup.New(), sessions.WithNotifier(feed))

	factory := connectors.NewFactory(connectors.Options{Timeout: cfg.ConnectorTimeout})
	engine := reconcile.New(sqlDB, factory, reconcile.OptionsFromConfig(cfg))
	sched := scheduler.New(engine, cfg.SyncInterval(), cfg.SyncInitialDelay)

	sampler := monitors.NewPerformanceSampler(sqlDB, monitors.HostProbe,
		time.Duration(cfg.PerfSampleSec)*time.Second, 0)

	app := server.NewApp(server.Deps{
		DB:      sqlDB,
		Events:  events,
		Syncer:  engine,
		Trigger: sched,
		Feed:    feed,
		APIKey:  cfg.APIKey,
		Logger:  logging.Default(),
	})

	hook := (&sutureslog.Handler{Logger: logging.Default().Slog()}).MustHook()
	sup := suture.New("servarr-hub", suture.Spec{
		EventHook: hook,
		Timeout:   15 * time.Second,
	})
	sup.Add(feed)
	sup.Add(sched)
	sup.Add(sampler)
	sup.Add(server.NewHTTPService(app, ":"+cfg.Port))

	logging.Info("servarr-hub starting", "port", cfg.Port, "sync_interval", cfg.SyncInterval().String())
	err = sup.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if unstopped, _ := sup.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn("Service failed to stop", "service", svc.Name)
		}
	}
	logging.Info("servarr-hub stopped")
	return nil
}
