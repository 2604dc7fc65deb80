package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-ledger-sync/config"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
)

var syncPushOnly bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.InitTo(os.Stderr, logging.Config{
			Level:  cfg.Log.Level,
			Format: "text",
		})

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		eng, err := buildEngine(cfg, store)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if syncPushOnly {
			outcome, err := eng.RunPushOnly(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Pushed %d records\n", outcome.PushedRecords)
			return nil
		}

		outcome, err := eng.RunFullSync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pulled %d, pushed %d records in %s", outcome.PulledRecords, outcome.PushedRecords, outcome.Duration.Round(time.Millisecond))
		if outcome.ConflictsKept > 0 {
			fmt.Printf(" (%d local edits kept over remote)", outcome.ConflictsKept)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "push local changes without pulling")
	rootCmd.AddCommand(syncCmd)
}
