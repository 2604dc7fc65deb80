package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/c0deZ3R0/go-ledger-sync/config"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/orchestrator"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the foreground sync loop until interrupted",
	Long: `Run the sync orchestrator: an immediate full sync, then periodic
cycles plus debounced pushes behind local writes. Stops cleanly on
SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var logOut io.Writer = os.Stdout
		if cfg.Log.File != "" {
			logOut = &lumberjack.Logger{
				Filename:   cfg.Log.File,
				MaxSize:    cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAge:     cfg.Log.MaxAgeDays,
				Compress:   true,
			}
		}
		logging.InitTo(logOut, logging.Config{
			Level:       cfg.Log.Level,
			Format:      cfg.Log.Format,
			Environment: logging.EnvProduction,
		})
		logger := logging.Default().WithComponent("daemon")

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		eng, err := buildEngine(cfg, store)
		if err != nil {
			return err
		}

		orch := orchestrator.New(eng, store, orchestrator.Config{
			SyncInterval:      cfg.Sync.Interval,
			PushDebounce:      cfg.Sync.PushDebounce,
			ReconcileInterval: cfg.Sync.ReconcileInterval,
			StaleThreshold:    cfg.Sync.StaleThreshold,
		}, orchestrator.WithLogger(logging.Default().WithComponent("orchestrator")))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("daemon started",
			"database", cfg.Database.Path,
			"server", cfg.Server.BaseURL,
			"interval", cfg.Sync.Interval.String())

		orch.Start(ctx)
		<-ctx.Done()
		orch.Stop()

		logger.Info("daemon stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
