package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chainmonitor/internal/chain"
	"chainmonitor/internal/config"
	"chainmonitor/internal/gateway"
	"chainmonitor/internal/hub"
	"chainmonitor/internal/monitor"
	"chainmonitor/internal/registry"
	"chainmonitor/internal/storage"
	"chainmonitor/internal/storage/postgres"
)

const shutdownTimeout = 5 * time.Second

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	reg, err := registry.Load(cfg.Registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.Dial(ctx, cfg.RPCURL, chain.DialOptions{
		Retries: cfg.DialRetries,
		Backoff: cfg.DialBackoff,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	sink, closeSink, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	h := hub.New(hub.Config{
		Buffer:         cfg.SubscriberBuffer,
		MaxSubscribers: cfg.MaxSubscribers,
	}, logger)

	mon, err := monitor.New(monitor.Config{
		PollInterval:  cfg.PollInterval,
		StatsInterval: cfg.StatsInterval,
		RPCTimeout:    cfg.RPCTimeout,
	}, monitor.Deps{
		Chain:  chainClient,
		Hub:    h,
		Sink:   sink,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("monitor start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("registry", cfg.Registry),
		zap.Int("contracts", reg.Len()),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("stats_interval", cfg.StatsInterval),
		zap.String("listen", cfg.Listen),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	if err := mon.Initialize(ctx, reg); err != nil {
		return err
	}
	if err := mon.Start(ctx); err != nil {
		return err
	}

	gw := gateway.NewServer(gateway.Config{
		Addr:         cfg.Listen,
		AllowOrigins: cfg.AllowOrigins,
	}, mon, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gw.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		mon.Stop()
		h.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openSinks builds the optional archive sinks. The returned close func is
// always safe to call.
func openSinks(ctx context.Context, cfg config.Config) (storage.Sink, func(), error) {
	var sinks storage.Multi
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, store)
	}

	switch len(sinks) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}
