// Command ledgersync runs the local-first ledger sync daemon and its
// one-shot maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-ledger-sync/config"
	"github.com/c0deZ3R0/go-ledger-sync/engine"
	"github.com/c0deZ3R0/go-ledger-sync/protocol"
	"github.com/c0deZ3R0/go-ledger-sync/storage/sqlite"
)

var rootCmd = &cobra.Command{
	Use:           "ledgersync",
	Short:         "Local-first personal finance sync",
	Long:          "ledgersync keeps a local sqlite ledger in sync with a remote sync server,\nreconciling provider data, budget links and derived balances on this device.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// staticTokenSource carries the configured bearer token.
type staticTokenSource struct {
	token string
}

func (s staticTokenSource) AccessToken(ctx context.Context) (string, error) {
	return s.token, nil
}

// openStore opens the sqlite store at the configured path, creating the
// parent directory on first run.
func openStore(cfg config.Config) (*sqlite.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return sqlite.New(sqlite.DefaultConfig(cfg.Database.Path))
}

// buildEngine wires the protocol client and sync engine from config.
func buildEngine(cfg config.Config, store *sqlite.Store) (*engine.Engine, error) {
	if cfg.Server.BaseURL == "" {
		return nil, fmt.Errorf("server.base_url is not configured (set LEDGERSYNC_SERVER_BASE_URL or edit the config file)")
	}
	var opts []protocol.HTTPClientOption
	if tok := cfg.Server.Token(); tok != "" {
		opts = append(opts, protocol.WithTokenSource(staticTokenSource{token: tok}))
	}
	client := protocol.NewHTTPClient(cfg.Server.BaseURL, opts...)
	return engine.New(store, client), nil
}
