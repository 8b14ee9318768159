package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client starts recheck workflows on Temporal. It satisfies
// pipeline.Rechecker.
type Client struct {
	client    client.Client
	taskQueue string
	maxChecks int
	interval  time.Duration
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		maxChecks: DefaultRecheckMaxChecks,
		interval:  DefaultRecheckInterval,
		logger:    logger,
	}, nil
}

// SetRecheckPolicy overrides how often and how many times a recheck polls.
func (c *Client) SetRecheckPolicy(maxChecks int, interval time.Duration) {
	c.maxChecks = maxChecks
	c.interval = interval
}

// StartRecheck starts a RecheckSubmissionWorkflow for a submission whose
// confirmation timed out. Temporal rejects a second recheck of the same
// submission while the first is open or completed.
func (c *Client) StartRecheck(ctx context.Context, sub pipeline.Submission) error {
	if sub.Hash == "" {
		return fmt.Errorf("submission %s has no transaction hash to recheck", sub.ID)
	}

	id := recheckWorkflowID(sub.ID)
	input := RecheckSubmissionInput{
		SubmissionID: sub.ID,
		Action:       sub.Action,
		Hash:         sub.Hash,
		MaxChecks:    c.maxChecks,
		Interval:     c.interval,
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		Memo: map[string]interface{}{
			"action":     sub.Action,
			"hash":       sub.Hash,
			"created_by": "nftmarket",
		},
	}, RecheckWorkflowName, input)
	if err != nil {
		c.logger.Error("failed to start recheck workflow",
			"submission_id", sub.ID,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start recheck %q: %w", id, err)
	}

	c.logger.Info("recheck workflow started",
		"submission_id", sub.ID,
		"hash", sub.Hash,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// AwaitRecheck blocks until the recheck of a submission finishes and returns
// its result.
func (c *Client) AwaitRecheck(ctx context.Context, submissionID string) (*RecheckSubmissionResult, error) {
	var result RecheckSubmissionResult
	if err := c.client.GetWorkflow(ctx, recheckWorkflowID(submissionID), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get recheck result for %s: %w", submissionID, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func recheckWorkflowID(submissionID string) string {
	return "recheck-submission-" + submissionID
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
