package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A local .env is optional. Variables already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "nftmarket",
		Usage: "NFT marketplace client",
		Description: `A command-line client for the NFT marketplace program.

Read listings straight from a ledger node, mint and list items through the
wallet bridge, or talk to a running nftmarket server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			marketCommands(),
			txCommands(),
			clientCommands(),
			submissionCommands(),
			recheckCommands(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "node-url",
				Usage:   "Ledger node REST URL",
				EnvVars: []string{"NODE_URL"},
				Value:   "https://fullnode.testnet.aptoslabs.com/v1",
			},
			&cli.StringFlag{
				Name:    "marketplace-address",
				Usage:   "Account holding the Marketplace resource",
				EnvVars: []string{"MARKETPLACE_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "module-address",
				Usage:   "Account the marketplace program is published under (defaults to the marketplace address)",
				EnvVars: []string{"MODULE_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "wallet-url",
				Usage:   "Wallet bridge URL used to sign transactions",
				EnvVars: []string{"WALLET_URL"},
				Value:   "http://localhost:8787",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "nftmarket server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue for rechecks",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "nftmarket-recheck",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// setupLogger creates a structured logger on stderr with the given level.
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

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
