package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	nftmarket "github.com/brojonat/nftmarket/client"
	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/config"
	"github.com/brojonat/nftmarket/service/db"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.MustLoad()
	logger := setupLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("recheck worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting recheck worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Rechecks write their outcome to the journal, so the worker needs it.
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the worker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	m := metrics.NewMetrics(nil)
	stopMetrics := serveMetrics(getEnv("METRICS_ADDR", ":9091"), logger)
	defer stopMetrics()

	ledgerClient, err := ledger.NewClient(ledger.Config{
		NodeURL:           cfg.NodeURL,
		Timeout:           cfg.LedgerTimeout,
		RequestsPerSecond: cfg.LedgerRPS,
		RetryMax:          cfg.LedgerRetryMax,
	}, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}

	// The catalog lives in the API server, so refreshes go through its API.
	serverURL := getEnv("SERVER_URL", "http://localhost:8080")
	api := nftmarket.NewClient(serverURL, &http.Client{Timeout: cfg.LedgerTimeout}, logger)

	wc := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Ledger:            ledgerClient,
		Store:             store,
		Refresher:         serverRefresher{client: api},
		Metrics:           m,
		Logger:            logger,
	}

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			return fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		defer publisher.Close()
		wc.Publisher = publisher
	}

	w, err := temporal.NewWorker(wc)
	if err != nil {
		return fmt.Errorf("failed to create temporal worker: %w", err)
	}
	defer w.Stop()

	logger.Info("recheck worker ready", "node_url", cfg.NodeURL, "server_url", serverURL)

	// Start returns on SIGINT/SIGTERM.
	return w.Start()
}

func serveMetrics(addr string, logger *slog.Logger) func() {
	srv := &http.Server{Addr: addr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}
}

// serverRefresher refreshes the API server's catalog over HTTP.
type serverRefresher struct {
	client *nftmarket.Client
}

func (r serverRefresher) Refresh(ctx context.Context) (catalog.RefreshResult, error) {
	res, err := r.client.RefreshListings(ctx)
	if err != nil {
		return catalog.RefreshResult{}, err
	}
	out := catalog.RefreshResult{
		Generation: res.Generation,
		Listings:   res.Listings,
		Dropped:    res.Dropped,
	}
	if !res.Applied {
		return out, catalog.ErrSuperseded
	}
	return out, nil
}

func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
