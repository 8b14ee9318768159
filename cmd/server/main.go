package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/config"
	"github.com/brojonat/nftmarket/service/db"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/brojonat/nftmarket/service/server"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/brojonat/nftmarket/service/txbuilder"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"node_url", cfg.NodeURL,
		"marketplace", cfg.MarketplaceAddress,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	ledgerClient, err := ledger.NewClient(ledger.Config{
		NodeURL:           cfg.NodeURL,
		Timeout:           cfg.LedgerTimeout,
		RequestsPerSecond: cfg.LedgerRPS,
		RetryMax:          cfg.LedgerRetryMax,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		PollInterval:      cfg.ConfirmPollInterval,
	}, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create ledger client", "error", err)
		os.Exit(1)
	}

	catalogCfg := catalog.Config{
		MarketplaceAddress: cfg.MarketplaceAddress,
		ModuleAddress:      cfg.ModuleAddress,
		PageSize:           cfg.PageSize,
	}
	cat := catalog.New(ledgerClient, catalogCfg, metricsCollector, logger)
	lookup := catalog.NewLookup(ledgerClient, catalogCfg, cfg.DetailCacheTTL, metricsCollector, logger)
	cat.OnRefresh(lookup.Invalidate)

	signer := ledger.NewWalletSigner(cfg.WalletURL, nil, logger)
	builder := txbuilder.New(cfg.ModuleAddress, cfg.MarketplaceAddress)

	opts := pipeline.Options{
		Metrics: metricsCollector,
		Logger:  logger,
	}
	deps := server.Dependencies{
		Listings: cat,
		Lookup:   lookup,
		Balances: ledgerClient,
	}

	// Journal and rechecks need the database.
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}

		store := db.NewStore(dbPool)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		opts.Journal = store
		deps.Store = store

		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Warn("temporal unavailable, timed out submissions will not be rechecked",
				"host", cfg.TemporalHost,
				"error", err,
			)
		} else {
			defer temporalClient.Close()
			temporalClient.SetRecheckPolicy(cfg.RecheckMaxChecks, cfg.RecheckInterval)
			opts.Rechecker = temporalClient
			logger.Info("connected to temporal",
				"host", cfg.TemporalHost,
				"namespace", cfg.TemporalNamespace,
			)
		}
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		opts.Observers = append(opts.Observers, natspkg.NewObserver(natsPublisher, logger))

		ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		defer ssePublisher.Close()
		deps.Stream = ssePublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	deps.Submitter = pipeline.New(builder, ledgerClient, cat, signer, opts)

	// A failed first load leaves the catalog empty until the next refresh.
	refreshCtx, refreshCancel := context.WithTimeout(ctx, cfg.LedgerTimeout)
	if res, err := cat.Refresh(refreshCtx); err != nil {
		logger.Warn("initial catalog refresh failed", "error", err)
	} else {
		logger.Info("catalog loaded", "listings", res.Listings, "dropped", res.Dropped)
	}
	refreshCancel()

	httpServer := server.New(cfg.ServerAddr, deps, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"wallet_url", cfg.WalletURL,
		"journal", deps.Store != nil,
		"recheck", opts.Rechecker != nil,
		"stream", deps.Stream != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
