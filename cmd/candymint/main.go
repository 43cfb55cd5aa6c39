// Command candymint mints from a candy machine and serves the sale status.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "candymint",
	Short: "Candy machine mint client",
	Long: `candymint reads the state of a candy machine sale, submits mint
transactions signed by a local keypair and waits for them to confirm.

Settings come from flags, CANDYMINT_* environment variables or a config file.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("rpc-endpoint", "", "Solana RPC HTTP endpoint")
	flags.String("ws-endpoint", "", "Solana WebSocket endpoint (derived from --rpc-endpoint when empty)")
	flags.String("candy-machine-id", "", "candy machine account")
	flags.String("config-account", "", "candy machine config account")
	flags.String("treasury", "", "sale treasury wallet")
	flags.String("start-date", "", "fallback go-live date (RFC 3339 or unix seconds)")
	flags.Duration("tx-timeout", 0, "confirmation timeout")
	flags.Duration("poll-interval", 0, "signature status poll interval")
	flags.String("commitment", "", "commitment level (processed, confirmed, finalized)")
	flags.StringP("keypair", "k", "", "path to a JSON keypair file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	flags.String("log-file", "", "also write JSON logs to this rotated file")
	flags.Bool("json", false, "output JSON")

	bind := map[string]string{
		"config":           "config",
		"rpc_endpoint":     "rpc-endpoint",
		"ws_endpoint":      "ws-endpoint",
		"candy_machine_id": "candy-machine-id",
		"config_account":   "config-account",
		"treasury":         "treasury",
		"start_date":       "start-date",
		"tx_timeout":       "tx-timeout",
		"poll_interval":    "poll-interval",
		"commitment":       "commitment",
		"keypair":          "keypair",
		"log.level":        "log-level",
		"log.format":       "log-format",
		"log.file":         "log-file",
		"json":             "json",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func registerCommands() {
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(mintCmd())
	rootCmd.AddCommand(serveCmd())
}
