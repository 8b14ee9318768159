package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/pipeline"
)

// CheckTransactionInput contains parameters for the CheckTransaction activity.
type CheckTransactionInput struct {
	Hash string `json:"hash"`
}

// CheckTransactionResult is a single look at a transaction's status.
type CheckTransactionResult struct {
	Pending  bool   `json:"pending"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status,omitempty"`
	Version  string `json:"version,omitempty"`
}

// RecordOutcomeInput contains parameters for the RecordOutcome activity.
type RecordOutcomeInput struct {
	SubmissionID string               `json:"submission_id"`
	State        pipeline.State       `json:"state"`
	FailureKind  pipeline.FailureKind `json:"failure_kind,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// RefreshCatalogResult contains the result of the RefreshCatalog activity.
type RefreshCatalogResult struct {
	Applied    bool   `json:"applied"`
	Generation uint64 `json:"generation"`
	Listings   int    `json:"listings"`
}

// TransactionReader defines the ledger operations needed by activities.
// This allows for easy mocking in tests.
type TransactionReader interface {
	GetTransaction(ctx context.Context, hash string) (ledger.Outcome, bool, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpdateSubmissionOutcome(ctx context.Context, id string, state pipeline.State, kind pipeline.FailureKind, errMsg string) (*pipeline.Submission, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	ledger    TransactionReader
	store     StoreInterface
	refresher pipeline.Refresher
	publisher natspkg.Publisher // optional
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics or publisher is nil, that concern is skipped.
func NewActivities(
	reader TransactionReader,
	store StoreInterface,
	refresher pipeline.Refresher,
	publisher natspkg.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		ledger:    reader,
		store:     store,
		refresher: refresher,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) observe(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, metrics.Since(start))
	}
}

// CheckTransaction looks up a transaction by hash once. Pending and unknown
// transactions are reported as pending, not as errors.
func (a *Activities) CheckTransaction(ctx context.Context, input CheckTransactionInput) (*CheckTransactionResult, error) {
	defer a.observe("CheckTransaction", time.Now())

	outcome, pending, err := a.ledger.GetTransaction(ctx, input.Hash)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to check transaction", "hash", input.Hash, "error", err)
		return nil, fmt.Errorf("failed to check transaction %s: %w", input.Hash, err)
	}
	if pending {
		a.logger.DebugContext(ctx, "transaction still pending", "hash", input.Hash)
		return &CheckTransactionResult{Pending: true}, nil
	}

	a.logger.InfoContext(ctx, "transaction committed",
		"hash", input.Hash,
		"success", outcome.Success,
		"version", outcome.Version,
	)
	return &CheckTransactionResult{
		Success:  outcome.Success,
		VMStatus: outcome.VMStatus,
		Version:  outcome.Version,
	}, nil
}

// RecordOutcome stores the resolved state of a submission and announces it.
// Publishing is best effort.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) error {
	defer a.observe("RecordOutcome", time.Now())

	sub, err := a.store.UpdateSubmissionOutcome(ctx, input.SubmissionID, input.State, input.FailureKind, input.Error)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record submission outcome",
			"submission_id", input.SubmissionID,
			"error", err,
		)
		return fmt.Errorf("failed to record outcome of %s: %w", input.SubmissionID, err)
	}
	if a.metrics != nil {
		a.metrics.RecordRecheck(string(input.State))
	}

	if a.publisher != nil {
		if err := a.publisher.PublishSubmission(ctx, natspkg.FromSubmission(*sub)); err != nil {
			a.logger.WarnContext(ctx, "failed to publish rechecked submission",
				"submission_id", input.SubmissionID,
				"error", err,
			)
		}
	}

	a.logger.InfoContext(ctx, "recorded rechecked submission",
		"submission_id", input.SubmissionID,
		"state", input.State,
	)
	return nil
}

// RefreshCatalog re-reads the marketplace. A refresh overtaken by a newer one
// is not an error.
func (a *Activities) RefreshCatalog(ctx context.Context) (*RefreshCatalogResult, error) {
	defer a.observe("RefreshCatalog", time.Now())

	res, err := a.refresher.Refresh(ctx)
	if errors.Is(err, catalog.ErrSuperseded) {
		return &RefreshCatalogResult{Generation: res.Generation}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to refresh catalog: %w", err)
	}
	return &RefreshCatalogResult{
		Applied:    true,
		Generation: res.Generation,
		Listings:   res.Listings,
	}, nil
}
