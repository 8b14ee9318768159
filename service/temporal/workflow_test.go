package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func newRecheckEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.CheckTransaction)
	env.RegisterActivity(activities.RecordOutcome)
	env.RegisterActivity(activities.RefreshCatalog)
	return env, activities
}

func TestRecheckSubmissionWorkflow(t *testing.T) {
	input := RecheckSubmissionInput{
		SubmissionID: "sub-1",
		Action:       pipeline.ActionMint,
		Hash:         "0xfeed",
		MaxChecks:    5,
		Interval:     10 * time.Second,
	}

	tests := []struct {
		name          string
		checks        []*CheckTransactionResult
		refreshErr    error
		wantState     pipeline.State
		wantKind      pipeline.FailureKind
		wantRecorded  *RecordOutcomeInput
		wantRefreshed bool
		wantChecks    int
		wantResultErr bool
	}{
		{
			name: "pending then committed",
			checks: []*CheckTransactionResult{
				{Pending: true},
				{Pending: true},
				{Success: true, Version: "42"},
			},
			wantState:     pipeline.StateSucceeded,
			wantRecorded:  &RecordOutcomeInput{SubmissionID: "sub-1", State: pipeline.StateSucceeded},
			wantRefreshed: true,
			wantChecks:    3,
		},
		{
			name: "committed but aborted",
			checks: []*CheckTransactionResult{
				{Success: false, VMStatus: "Move abort: E_NOT_OWNER"},
			},
			wantState: pipeline.StateFailed,
			wantKind:  pipeline.FailureRejected,
			wantRecorded: &RecordOutcomeInput{
				SubmissionID: "sub-1",
				State:        pipeline.StateFailed,
				FailureKind:  pipeline.FailureRejected,
				Error:        "transaction 0xfeed failed: Move abort: E_NOT_OWNER",
			},
			wantChecks: 1,
		},
		{
			name:          "refresh failure keeps the outcome",
			checks:        []*CheckTransactionResult{{Success: true}},
			refreshErr:    errors.New("node unavailable"),
			wantState:     pipeline.StateSucceeded,
			wantRecorded:  &RecordOutcomeInput{SubmissionID: "sub-1", State: pipeline.StateSucceeded},
			wantChecks:    1,
			wantResultErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newRecheckEnv(t)

			call := 0
			env.OnActivity(activities.CheckTransaction, mock.Anything, CheckTransactionInput{Hash: "0xfeed"}).
				Return(func(_ context.Context, _ CheckTransactionInput) (*CheckTransactionResult, error) {
					res := tt.checks[call]
					call++
					return res, nil
				})

			var recorded *RecordOutcomeInput
			env.OnActivity(activities.RecordOutcome, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					in := args.Get(1).(RecordOutcomeInput)
					recorded = &in
				}).
				Return(nil)

			if tt.wantState == pipeline.StateSucceeded {
				if tt.refreshErr != nil {
					env.OnActivity(activities.RefreshCatalog, mock.Anything).Return(nil, tt.refreshErr)
				} else {
					env.OnActivity(activities.RefreshCatalog, mock.Anything).
						Return(&RefreshCatalogResult{Applied: true, Generation: 2, Listings: 10}, nil)
				}
			}

			env.ExecuteWorkflow(RecheckSubmissionWorkflow, input)

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result RecheckSubmissionResult
			require.NoError(t, env.GetWorkflowResult(&result))
			assert.Equal(t, tt.wantState, result.State)
			assert.Equal(t, tt.wantKind, result.FailureKind)
			assert.Equal(t, tt.wantChecks, result.Checks)
			assert.Equal(t, tt.wantRefreshed, result.Refreshed)
			assert.Equal(t, tt.wantResultErr, result.Error != nil)
			assert.Equal(t, tt.wantRecorded, recorded)
		})
	}
}

func TestRecheckSubmissionWorkflow_GivesUpWhilePending(t *testing.T) {
	env, activities := newRecheckEnv(t)

	checks := 0
	env.OnActivity(activities.CheckTransaction, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { checks++ }).
		Return(&CheckTransactionResult{Pending: true}, nil)

	recorded := 0
	env.OnActivity(activities.RecordOutcome, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded++ }).
		Return(nil)

	startTime := env.Now()
	env.ExecuteWorkflow(RecheckSubmissionWorkflow, RecheckSubmissionInput{
		SubmissionID: "sub-2",
		Hash:         "0xbeef",
		MaxChecks:    3,
		Interval:     time.Minute,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RecheckSubmissionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, pipeline.StateFailed, result.State)
	assert.Equal(t, pipeline.FailureTimeout, result.FailureKind)
	assert.Equal(t, 3, result.Checks)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "still pending after 3 checks")

	assert.Equal(t, 3, checks)
	assert.Zero(t, recorded, "a still-pending submission keeps its stored state")
	// Two sleeps between three checks.
	assert.GreaterOrEqual(t, env.Now().Sub(startTime), 2*time.Minute)
}

func TestRecheckSubmissionWorkflow_CheckErrorsAreRetried(t *testing.T) {
	env, activities := newRecheckEnv(t)

	call := 0
	env.OnActivity(activities.CheckTransaction, mock.Anything, mock.Anything).
		Return(func(_ context.Context, _ CheckTransactionInput) (*CheckTransactionResult, error) {
			call++
			// Fails every attempt of the first check.
			if call <= 3 {
				return nil, errors.New("connection refused")
			}
			return &CheckTransactionResult{Success: true}, nil
		})
	env.OnActivity(activities.RecordOutcome, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(activities.RefreshCatalog, mock.Anything).Return(&RefreshCatalogResult{Applied: true}, nil)

	env.ExecuteWorkflow(RecheckSubmissionWorkflow, RecheckSubmissionInput{
		SubmissionID: "sub-3",
		Hash:         "0xcafe",
		MaxChecks:    2,
		Interval:     time.Second,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RecheckSubmissionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, pipeline.StateSucceeded, result.State)
	assert.Equal(t, 2, result.Checks)
	assert.True(t, result.Refreshed)
}

func TestRecheckSubmissionWorkflow_RecordFailureFailsWorkflow(t *testing.T) {
	env, activities := newRecheckEnv(t)

	env.OnActivity(activities.CheckTransaction, mock.Anything, mock.Anything).
		Return(&CheckTransactionResult{Success: true}, nil)
	env.OnActivity(activities.RecordOutcome, mock.Anything, mock.Anything).
		Return(errors.New("database is down"))

	env.ExecuteWorkflow(RecheckSubmissionWorkflow, RecheckSubmissionInput{
		SubmissionID: "sub-4",
		Hash:         "0xd00d",
		MaxChecks:    1,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record outcome")
}

func TestRecheckSubmissionWorkflow_Defaults(t *testing.T) {
	env, activities := newRecheckEnv(t)

	checks := 0
	env.OnActivity(activities.CheckTransaction, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { checks++ }).
		Return(&CheckTransactionResult{Pending: true}, nil)

	env.ExecuteWorkflow(RecheckSubmissionWorkflow, RecheckSubmissionInput{
		SubmissionID: "sub-5",
		Hash:         "0xabcd",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, DefaultRecheckMaxChecks, checks)
}
