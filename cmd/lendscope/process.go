package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lendscope/internal/chain"
	"lendscope/internal/config"
	"lendscope/internal/engine"
	"lendscope/internal/ledger"
	"lendscope/internal/period"
	"lendscope/internal/protocol"
	"lendscope/internal/snapshot"
	"lendscope/internal/store/postgres"
)

func runProcess(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadProcess(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := requireString(cfg.RPCURL, "rpc url"); err != nil {
		return err
	}
	if err := requireString(cfg.RegistryAddress, "registry address"); err != nil {
		return err
	}
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return fmt.Errorf("invalid registry address: %s", cfg.RegistryAddress)
	}
	if err := requireString(cfg.Input, "input path"); err != nil {
		return err
	}
	if err := requireString(cfg.PGDSN, "pg dsn"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	entityStore, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer entityStore.Close()

	if err := entityStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	source := protocol.NewEthSource(chainClient, common.HexToAddress(cfg.RegistryAddress))
	ldg := ledger.New(entityStore, source, logger)

	clock := period.NewClock(cfg.PeriodSeconds)
	timekeeper, err := period.NewTimekeeper(ctx, clock, entityStore, logger)
	if err != nil {
		return fmt.Errorf("init timekeeper: %w", err)
	}

	snapshots := snapshot.NewService(logger,
		snapshot.Pools(entityStore),
		snapshot.Tranches(entityStore),
	)

	processor, err := engine.NewProcessor(ctx, entityStore, ldg, snapshots, timekeeper, logger)
	if err != nil {
		return err
	}

	feed, err := engine.OpenFeed(cfg.Input)
	if err != nil {
		return err
	}
	defer feed.Close()

	logger.Info("process start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("in", cfg.Input),
		zap.Uint64("period_seconds", cfg.PeriodSeconds),
	)

	return processor.Run(ctx, feed)
}
