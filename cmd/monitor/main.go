package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "monitor",
		Short:        "Chain activity monitor",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the chain and stream contract activity to subscribers",
		RunE:  runMonitor,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().String("registry", "", "contract registry manifest (YAML)")
	runCmd.Flags().Duration("poll-interval", 2*time.Second, "latest block poll interval")
	runCmd.Flags().Duration("stats-interval", 10*time.Second, "stats refresh interval")
	runCmd.Flags().Duration("rpc-timeout", 5*time.Second, "timeout for each RPC call inside a tick")
	runCmd.Flags().String("listen", ":8080", "gateway listen address")
	runCmd.Flags().StringSlice("allow-origins", nil, "allowed websocket origins (comma-separated, empty allows all)")
	runCmd.Flags().Int("subscriber-buffer", 64, "per-subscriber message buffer")
	runCmd.Flags().Int("max-subscribers", 1000, "maximum concurrent subscribers")
	runCmd.Flags().String("out", "", "optional JSONL archive of contract transactions")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for the transaction archive")
	runCmd.Flags().Int("dial-retries", 5, "RPC dial retry attempts at startup")
	runCmd.Flags().Duration("dial-backoff", 500*time.Millisecond, "initial RPC dial backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	contractsCmd := &cobra.Command{
		Use:   "contracts",
		Short: "Print the tracked contracts and event topics of a registry",
		RunE:  runContracts,
	}

	contractsCmd.Flags().String("registry", "", "contract registry manifest (YAML)")
	contractsCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(contractsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
