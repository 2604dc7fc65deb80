package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-ledger-sync/config"
	"github.com/c0deZ3R0/go-ledger-sync/domain"
	"github.com/c0deZ3R0/go-ledger-sync/logging"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync cursor and pending local changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.InitTo(os.Stderr, logging.Config{Level: "error", Format: "text"})

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()

		cursor, ok, err := store.GetStateInt64(ctx, sqlite.StateLastPulledAt)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Last pulled: %s (cursor %d)\n", time.UnixMilli(cursor).Local().Format(time.RFC3339), cursor)
		} else {
			fmt.Println("Last pulled: never")
		}

		if pushedAt, ok, err := store.GetStateTime(ctx, sqlite.StateLastPushAt); err != nil {
			return err
		} else if ok {
			fmt.Printf("Last pushed: %s\n", pushedAt.Local().Format(time.RFC3339))
		} else {
			fmt.Println("Last pushed: never")
		}

		snap, err := store.ChangesForPush(ctx)
		if err != nil {
			return err
		}
		if snap.Empty() {
			fmt.Println("Pending changes: none")
			return nil
		}

		fmt.Println("Pending changes:")
		for _, table := range domain.SyncTables {
			tc, ok := snap.Changes[table]
			if !ok || tc.Empty() {
				continue
			}
			fmt.Printf("  %-14s %d created, %d updated, %d deleted\n",
				table, len(tc.Created), len(tc.Updated), len(tc.Deleted))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
