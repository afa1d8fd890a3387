package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "lendscope",
		Short:        "Tokenized lending pool indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Stream protocol events from the chain into the feed",
		RunE:  runIngest,
	}

	ingestCmd.Flags().String("rpc", "", "RPC URL")
	ingestCmd.Flags().String("registry", "", "pool registry contract address")
	ingestCmd.Flags().StringSlice("contract", nil, "protocol contract addresses (comma-separated)")
	ingestCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	ingestCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	ingestCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	ingestCmd.Flags().String("out", "./data/events.jsonl", "output feed JSONL path")
	ingestCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	ingestCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	ingestCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	ingestCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	ingestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(ingestCmd)

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Apply feed events to the ledger",
		RunE:  runProcess,
	}

	processCmd.Flags().String("rpc", "", "RPC URL")
	processCmd.Flags().String("registry", "", "pool registry contract address")
	processCmd.Flags().String("in", "", "input feed JSONL path")
	processCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	processCmd.Flags().Uint64("period-seconds", 86400, "snapshot period length in seconds")
	processCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(processCmd)

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

func requireString(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}
