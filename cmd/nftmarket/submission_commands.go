package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftmarket/service/db"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func submissionCommands() *cli.Command {
	return &cli.Command{
		Name:  "submissions",
		Usage: "Inspect the submission journal and watch submission events",
		Subcommands: []*cli.Command{
			listSubmissionsCommand(),
			getSubmissionCommand(),
			submissionStatsCommand(),
			watchSubmissionsCommand(),
		},
	}
}

func listSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List journaled submissions, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "action", Usage: "Filter by action (mint, list_for_sale)"},
			&cli.StringFlag{Name: "state", Aliases: []string{"s"}, Usage: "Filter by state (succeeded, failed)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum number of submissions", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "Number of submissions to skip"},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			subs, err := store.ListSubmissions(c.Context, db.ListSubmissionsParams{
				Action: c.String("action"),
				State:  c.String("state"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(subs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACTION\tSTATE\tFAILURE\tHASH\tCREATED")
			for _, sub := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					sub.ID,
					sub.Action,
					sub.State,
					orDash(string(sub.FailureKind)),
					orDash(sub.Hash),
					sub.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
			return nil
		},
	}
}

func getSubmissionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one submission",
		ArgsUsage: "<submission-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: submission ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sub, err := store.GetSubmission(c.Context, c.Args().First())
			if errors.Is(err, db.ErrSubmissionNotFound) {
				return fmt.Errorf("submission %s not found", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get submission: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(sub)
			}
			printJournaledSubmission(sub)
			return nil
		},
	}
}

func submissionStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count submissions by state",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			counts, err := store.CountSubmissionsByState(c.Context)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(counts)
			}

			states := make([]string, 0, len(counts))
			var total int64
			for state, n := range counts {
				states = append(states, string(state))
				total += n
			}
			sort.Strings(states)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tCOUNT")
			for _, state := range states {
				fmt.Fprintf(w, "%s\t%d\n", state, counts[pipeline.State(state)])
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			w.Flush()
			return nil
		},
	}
}

func watchSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream terminal submission events from NATS",
		ArgsUsage: "[action]",
		Description: `Subscribe to submission events published to NATS JetStream.

Events are published to the subject: market.submissions.{action}
Without an action every submission is streamed.

Example:
  nftmarket submissions watch mint --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "nftmarket-cli",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay events already in the stream before new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.SubjectPrefix + c.Args().First()
			}
			return streamSubmissions(c.Context, c.String("nats-url"), subject, consumerConfig(
				subject, c.Bool("durable"), c.String("consumer-name"), c.Bool("all"),
			), c.Bool("json"))
		},
	}
}

// consumerConfig builds the JetStream consumer for watch. Ephemeral
// consumers only see new events unless all is set.
func consumerConfig(subject string, durable bool, name string, all bool) jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if all {
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	if durable {
		cfg.Durable = name
		cfg.Name = name
	}
	return cfg
}

// streamSubmissions connects to NATS and prints submission events until
// interrupted.
func streamSubmissions(ctx context.Context, natsURL, subject string, cfg jetstream.ConsumerConfig, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if cfg.Durable != "" {
			fmt.Printf("   Consumer: %s (durable)\n", cfg.Durable)
		}
		fmt.Printf("\nWaiting for submissions... (Ctrl-C to exit)\n\n")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.SubmissionEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++
			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				printSubmissionEvent(count, &event)
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d submissions\n", count)
			}
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printSubmissionEvent(n int, event *natspkg.SubmissionEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Submission #%d\n", n)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("ID:           %s\n", event.SubmissionID)
	fmt.Printf("Action:       %s\n", event.Action)
	fmt.Printf("State:        %s\n", event.State)
	if event.FailureKind != "" {
		fmt.Printf("Failure:      %s\n", event.FailureKind)
	}
	if event.Hash != "" {
		fmt.Printf("Hash:         %s\n", event.Hash)
	}
	if event.Error != "" {
		fmt.Printf("Error:        %s\n", event.Error)
	}
	fmt.Printf("Completed:    %s\n", event.CompletedAt.Format(time.RFC3339))
	fmt.Printf("\n")
}

func printJournaledSubmission(sub *pipeline.Submission) {
	fmt.Printf("Submission: %s\n", sub.ID)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Action:       %s\n", sub.Action)
	fmt.Printf("Intent:       %s\n", sub.IntentKey)
	fmt.Printf("State:        %s\n", sub.State)
	fmt.Printf("Failure:      %s\n", orDash(string(sub.FailureKind)))
	fmt.Printf("Hash:         %s\n", orDash(sub.Hash))
	if sub.Error != "" {
		fmt.Printf("Error:        %s\n", sub.Error)
	}
	fmt.Printf("Created:      %s\n", sub.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:      %s\n", sub.UpdatedAt.Format(time.RFC3339))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// getStore opens the submission journal named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}
