package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftmarket/service/db"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/brojonat/nftmarket/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/api/workflowservice/v1"
)

func recheckCommands() *cli.Command {
	return &cli.Command{
		Name:  "recheck",
		Usage: "Follow up on submissions whose confirmation timed out",
		Subcommands: []*cli.Command{
			startRecheckCommand(),
			awaitRecheckCommand(),
			listRechecksCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		setupLogger(c.String("log-level")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, nil
}

func startRecheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a recheck for a timed out submission",
		ArgsUsage: "<submission-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-checks", Usage: "Status checks before giving up", Value: temporal.DefaultRecheckMaxChecks},
			&cli.DurationFlag{Name: "interval", Usage: "Delay between checks", Value: temporal.DefaultRecheckInterval},
			&cli.BoolFlag{Name: "force", Usage: "Recheck even if the submission did not time out"},
		},
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
			if sub.FailureKind != pipeline.FailureTimeout && !c.Bool("force") {
				return fmt.Errorf("submission %s is %s, not timed out (use --force to recheck anyway)", sub.ID, sub.State)
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			tc.SetRecheckPolicy(c.Int("max-checks"), c.Duration("interval"))
			if err := tc.StartRecheck(c.Context, *sub); err != nil {
				return err
			}

			fmt.Printf("✓ Recheck started for submission %s\n", sub.ID)
			fmt.Printf("  Hash: %s\n", sub.Hash)
			return nil
		},
	}
}

func awaitRecheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a recheck to finish and show its result",
		ArgsUsage: "<submission-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: submission ID")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			res, err := tc.AwaitRecheck(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(res)
			}
			fmt.Printf("Submission:   %s\n", res.SubmissionID)
			fmt.Printf("Hash:         %s\n", res.Hash)
			fmt.Printf("State:        %s\n", res.State)
			if res.FailureKind != "" {
				fmt.Printf("Failure:      %s\n", res.FailureKind)
			}
			if res.VMStatus != "" {
				fmt.Printf("VM Status:    %s\n", res.VMStatus)
			}
			fmt.Printf("Checks:       %d\n", res.Checks)
			fmt.Printf("Refreshed:    %v\n", res.Refreshed)
			if res.Error != nil {
				fmt.Printf("Error:        %s\n", *res.Error)
			}
			return nil
		},
	}
}

func listRechecksCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List recheck workflow executions",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "open", Usage: "Only show rechecks still running"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of executions", Value: 50},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			query := fmt.Sprintf("WorkflowType = '%s'", temporal.RecheckWorkflowName)
			if c.Bool("open") {
				query += " AND ExecutionStatus = 'Running'"
			}

			resp, err := tc.SDKClient().ListWorkflow(c.Context, &workflowservice.ListWorkflowExecutionsRequest{
				PageSize: int32(c.Int("limit")),
				Query:    query,
			})
			if err != nil {
				return fmt.Errorf("failed to list workflows: %w", err)
			}

			type execution struct {
				WorkflowID string    `json:"workflow_id"`
				RunID      string    `json:"run_id"`
				Status     string    `json:"status"`
				StartTime  time.Time `json:"start_time"`
			}
			executions := make([]execution, 0, len(resp.GetExecutions()))
			for _, info := range resp.GetExecutions() {
				executions = append(executions, execution{
					WorkflowID: info.GetExecution().GetWorkflowId(),
					RunID:      info.GetExecution().GetRunId(),
					Status:     info.GetStatus().String(),
					StartTime:  info.GetStartTime().AsTime(),
				})
			}

			if c.Bool("json") {
				return outputJSON(executions)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WORKFLOW ID\tSTATUS\tSTARTED")
			for _, e := range executions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.WorkflowID, e.Status, e.StartTime.Format(time.RFC3339))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d rechecks\n", len(executions))
			return nil
		},
	}
}
