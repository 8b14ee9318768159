// Package pipeline drives a write action from user intent to a confirmed
// transaction and a refreshed catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/brojonat/nftmarket/service/txbuilder"
	"github.com/google/uuid"
)

// ErrDuplicateSubmission is returned when the same intent is already in flight.
var ErrDuplicateSubmission = errors.New("an identical submission is already in flight")

// Gateway is the part of the ledger client the pipeline needs.
type Gateway interface {
	Submit(ctx context.Context, payload ledger.Payload, signer ledger.Signer) (ledger.TransactionHandle, error)
	AwaitConfirmation(ctx context.Context, handle ledger.TransactionHandle) (ledger.Outcome, error)
}

// Refresher re-runs the read path after a successful write.
type Refresher interface {
	Refresh(ctx context.Context) (catalog.RefreshResult, error)
}

// Journal persists terminal submissions.
type Journal interface {
	RecordSubmission(ctx context.Context, sub Submission) error
}

// Rechecker follows up on submissions whose confirmation timed out.
type Rechecker interface {
	StartRecheck(ctx context.Context, sub Submission) error
}

// Event is emitted on every state change.
type Event struct {
	Submission Submission
	// Err is set on the transition to StateFailed.
	Err  error
	Time time.Time
}

// Observer receives events synchronously. It must not block.
type Observer func(Event)

// Options holds optional collaborators. The zero value is usable.
type Options struct {
	Journal   Journal
	Rechecker Rechecker
	Observers []Observer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Result is the outcome of Submit.
type Result struct {
	Submission Submission
	Outcome    ledger.Outcome
	// RefreshErr is set when the transaction succeeded but the follow-up
	// catalog refresh failed. The submission is still Succeeded.
	RefreshErr error
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	builder   *txbuilder.Builder
	gateway   Gateway
	refresher Refresher
	signer    ledger.Signer
	journal   Journal
	rechecker Rechecker
	observers []Observer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]string // intent key -> submission id
	now      func() time.Time
}

// New creates a pipeline. signer may be nil, in which case every submission
// fails as a transport error at the signing step.
func New(builder *txbuilder.Builder, gateway Gateway, refresher Refresher, signer ledger.Signer, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Pipeline{
		builder:   builder,
		gateway:   gateway,
		refresher: refresher,
		signer:    signer,
		journal:   opts.Journal,
		rechecker: opts.Rechecker,
		observers: opts.Observers,
		metrics:   opts.Metrics,
		logger:    logger,
		inFlight:  make(map[string]string),
		now:       time.Now,
	}
}

// Submit runs intent through the whole lifecycle and returns once the
// submission is terminal. A failed submission returns a *SubmissionError
// alongside a Result describing it.
func (p *Pipeline) Submit(ctx context.Context, intent Intent) (Result, error) {
	key := intent.Key()
	id := uuid.NewString()
	if !p.acquire(key, id) {
		p.logger.WarnContext(ctx, "rejecting duplicate submission", "intent_key", key)
		return Result{}, ErrDuplicateSubmission
	}
	defer p.release(key)

	start := p.now()
	sub := Submission{
		ID:        id,
		Action:    intent.Action(),
		IntentKey: key,
		State:     StateIdle,
		CreatedAt: start,
		UpdatedAt: start,
	}
	logger := p.logger.With("submission_id", id, "action", sub.Action)

	res := p.run(ctx, logger, &sub, intent)
	res.Submission = sub

	p.finish(ctx, logger, sub, start)

	if sub.State == StateFailed {
		return res.Result, &SubmissionError{Kind: sub.FailureKind, Err: res.err}
	}
	return res.Result, nil
}

type runResult struct {
	Result
	err error
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, sub *Submission, intent Intent) runResult {
	p.mustAdvance(sub, StateValidating)
	payload, err := intent.Build(p.builder)
	if err != nil {
		logger.InfoContext(ctx, "submission failed validation", "error", err)
		return p.fail(sub, FailureValidation, err)
	}
	p.mustAdvance(sub, StateBuilt)

	p.mustAdvance(sub, StateAwaitingSignature)
	handle, err := p.gateway.Submit(ctx, payload, p.signer)
	if err != nil {
		kind := classify(ctx, err)
		logger.InfoContext(ctx, "submission not broadcast", "failure_kind", kind, "error", err)
		return p.fail(sub, kind, err)
	}
	sub.Hash = handle.Hash
	p.mustAdvance(sub, StateBroadcasting)

	p.mustAdvance(sub, StateConfirming)
	outcome, err := p.gateway.AwaitConfirmation(ctx, handle)
	if err != nil {
		kind := classify(ctx, err)
		logger.WarnContext(ctx, "confirmation failed", "hash", handle.Hash, "failure_kind", kind, "error", err)
		return p.fail(sub, kind, err)
	}
	if !outcome.Success {
		err := fmt.Errorf("transaction %s failed: %s", outcome.Hash, outcome.FailureReason())
		logger.InfoContext(ctx, "transaction rejected by ledger", "hash", handle.Hash, "vm_status", outcome.VMStatus)
		res := p.fail(sub, FailureRejected, err)
		res.Outcome = outcome
		return res
	}

	// Refresh before reporting success so the caller never sees stale state.
	res := runResult{Result: Result{Outcome: outcome}}
	if _, err := p.refresher.Refresh(ctx); err != nil && !errors.Is(err, catalog.ErrSuperseded) {
		logger.WarnContext(ctx, "catalog refresh after submission failed", "hash", handle.Hash, "error", err)
		res.RefreshErr = err
	}
	p.mustAdvance(sub, StateSucceeded)
	logger.InfoContext(ctx, "submission succeeded", "hash", handle.Hash)
	return res
}

// classify maps a gateway error to a failure kind.
func classify(ctx context.Context, err error) FailureKind {
	switch {
	case errors.Is(err, ledger.ErrUserRejected):
		return FailureCancelled
	case errors.Is(err, ledger.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return FailureCancelled
	case errors.Is(err, txbuilder.ErrValidation):
		return FailureValidation
	default:
		return FailureTransport
	}
}

func (p *Pipeline) fail(sub *Submission, kind FailureKind, err error) runResult {
	sub.FailureKind = kind
	sub.Error = err.Error()
	if terr := p.advance(sub, StateFailed, err); terr != nil {
		panic(terr)
	}
	return runResult{err: err}
}

// mustAdvance applies a transition that the code path guarantees is legal.
func (p *Pipeline) mustAdvance(sub *Submission, to State) {
	if err := p.advance(sub, to, nil); err != nil {
		panic(err)
	}
}

func (p *Pipeline) advance(sub *Submission, to State, cause error) error {
	if err := sub.advance(to, p.now()); err != nil {
		return err
	}
	p.emit(Event{Submission: *sub, Err: cause, Time: sub.UpdatedAt})
	return nil
}

func (p *Pipeline) emit(ev Event) {
	for _, obs := range p.observers {
		obs(ev)
	}
}

// finish records a terminal submission. Journal and recheck failures are
// logged; they do not change the outcome reported to the caller.
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, sub Submission, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordSubmission(sub.Action, string(sub.State), string(sub.FailureKind), p.now().Sub(start).Seconds())
	}

	// The caller's context may already be done; bookkeeping still has to happen.
	bg := context.WithoutCancel(ctx)

	if p.journal != nil {
		if err := p.journal.RecordSubmission(bg, sub); err != nil {
			logger.ErrorContext(ctx, "failed to journal submission", "error", err)
		}
	}

	if sub.FailureKind == FailureTimeout && sub.Hash != "" && p.rechecker != nil {
		if err := p.rechecker.StartRecheck(bg, sub); err != nil {
			logger.ErrorContext(ctx, "failed to schedule recheck", "hash", sub.Hash, "error", err)
		} else {
			logger.InfoContext(ctx, "scheduled recheck of timed out submission", "hash", sub.Hash)
		}
	}
}

func (p *Pipeline) acquire(key, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[key]; busy {
		return false
	}
	p.inFlight[key] = id
	return true
}

func (p *Pipeline) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, key)
}

// InFlight returns the number of submissions currently running.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}
