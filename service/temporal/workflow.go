package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// RecheckWorkflowName is the registered name of RecheckSubmissionWorkflow.
	RecheckWorkflowName = "RecheckSubmissionWorkflow"

	DefaultRecheckInterval  = 30 * time.Second
	DefaultRecheckMaxChecks = 20
)

// RecheckSubmissionInput identifies a submission whose confirmation timed out.
type RecheckSubmissionInput struct {
	SubmissionID string        `json:"submission_id"`
	Action       string        `json:"action"`
	Hash         string        `json:"hash"`
	MaxChecks    int           `json:"max_checks"`
	Interval     time.Duration `json:"interval"`
}

// RecheckSubmissionResult reports what the recheck found.
type RecheckSubmissionResult struct {
	SubmissionID string               `json:"submission_id"`
	Hash         string               `json:"hash"`
	State        pipeline.State       `json:"state"`
	FailureKind  pipeline.FailureKind `json:"failure_kind,omitempty"`
	VMStatus     string               `json:"vm_status,omitempty"`
	Checks       int                  `json:"checks"`
	Refreshed    bool                 `json:"refreshed"`
	Error        *string              `json:"error,omitempty"`
}

// RecheckSubmissionWorkflow polls a transaction that was still pending when
// the pipeline gave up on it. Between checks it sleeps durably, so the
// recheck survives worker restarts.
//
// Once the transaction commits, the stored submission is updated to its real
// outcome and, on success, the catalog is refreshed. If it is still pending
// after MaxChecks the submission is left as a timeout failure.
func RecheckSubmissionWorkflow(ctx workflow.Context, input RecheckSubmissionInput) (*RecheckSubmissionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RecheckSubmissionWorkflow started",
		"submission_id", input.SubmissionID,
		"hash", input.Hash,
	)

	if input.MaxChecks <= 0 {
		input.MaxChecks = DefaultRecheckMaxChecks
	}
	if input.Interval <= 0 {
		input.Interval = DefaultRecheckInterval
	}

	result := &RecheckSubmissionResult{
		SubmissionID: input.SubmissionID,
		Hash:         input.Hash,
		State:        pipeline.StateFailed,
		FailureKind:  pipeline.FailureTimeout,
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var check *CheckTransactionResult
	for result.Checks < input.MaxChecks {
		result.Checks++
		err := workflow.ExecuteActivity(ctx, a.CheckTransaction, CheckTransactionInput{Hash: input.Hash}).Get(ctx, &check)
		if err != nil {
			// A failed check is not a verdict; try again after the interval.
			logger.Warn("transaction check failed", "hash", input.Hash, "check", result.Checks, "error", err)
			check = nil
		} else if !check.Pending {
			break
		}
		if result.Checks < input.MaxChecks {
			if err := workflow.Sleep(ctx, input.Interval); err != nil {
				return result, err
			}
		}
	}

	if check == nil || check.Pending {
		errMsg := fmt.Sprintf("transaction %s still pending after %d checks", input.Hash, result.Checks)
		result.Error = &errMsg
		logger.Warn("recheck gave up", "hash", input.Hash, "checks", result.Checks)
		return result, nil
	}

	record := RecordOutcomeInput{
		SubmissionID: input.SubmissionID,
		State:        pipeline.StateSucceeded,
	}
	if !check.Success {
		record.State = pipeline.StateFailed
		record.FailureKind = pipeline.FailureRejected
		record.Error = fmt.Sprintf("transaction %s failed: %s", input.Hash, check.VMStatus)
	}
	result.State = record.State
	result.FailureKind = record.FailureKind
	result.VMStatus = check.VMStatus

	if err := workflow.ExecuteActivity(ctx, a.RecordOutcome, record).Get(ctx, nil); err != nil {
		errMsg := fmt.Sprintf("failed to record outcome: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record outcome: %w", err)
	}

	if record.State == pipeline.StateSucceeded {
		var refresh *RefreshCatalogResult
		if err := workflow.ExecuteActivity(ctx, a.RefreshCatalog).Get(ctx, &refresh); err != nil {
			// The outcome is already stored; a stale catalog is not fatal.
			logger.Warn("catalog refresh after recheck failed", "error", err)
			errMsg := fmt.Sprintf("catalog refresh failed: %v", err)
			result.Error = &errMsg
		} else {
			result.Refreshed = refresh.Applied
		}
	}

	logger.Info("RecheckSubmissionWorkflow completed",
		"submission_id", input.SubmissionID,
		"state", result.State,
		"checks", result.Checks,
	)
	return result, nil
}
