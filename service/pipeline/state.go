package pipeline

import (
	"fmt"
	"time"
)

// State is a step of a submission's lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateBuilt             State = "built"
	StateAwaitingSignature State = "awaiting_signature"
	StateBroadcasting      State = "broadcasting"
	StateConfirming        State = "confirming"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// transitions lists the legal next states. Failed is reachable from every
// non-terminal state after Validating.
var transitions = map[State][]State{
	StateIdle:              {StateValidating},
	StateValidating:        {StateBuilt, StateFailed},
	StateBuilt:             {StateAwaitingSignature, StateFailed},
	StateAwaitingSignature: {StateBroadcasting, StateFailed},
	StateBroadcasting:      {StateConfirming, StateFailed},
	StateConfirming:        {StateSucceeded, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FailureKind classifies why a submission failed.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureValidation FailureKind = "validation"
	// FailureCancelled means the user declined in the wallet or the caller
	// gave up. It is not an error on the user's side.
	FailureCancelled FailureKind = "cancelled"
	FailureTransport FailureKind = "transport"
	// FailureTimeout means the outcome is unknown. The transaction may still
	// be committed later.
	FailureTimeout  FailureKind = "timeout"
	FailureRejected FailureKind = "rejected"
)

// Submission is the record of one write action.
type Submission struct {
	ID          string      `json:"id"`
	Action      string      `json:"action"`
	IntentKey   string      `json:"intent_key"`
	State       State       `json:"state"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Hash        string      `json:"hash,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (s *Submission) advance(to State, now time.Time) error {
	if !canTransition(s.State, to) {
		return fmt.Errorf("illegal submission transition %s -> %s", s.State, to)
	}
	s.State = to
	s.UpdatedAt = now
	return nil
}

// SubmissionError is returned by Submit for a failed submission. It unwraps
// to the underlying cause, so errors.Is works with the ledger and txbuilder
// error kinds.
type SubmissionError struct {
	Kind FailureKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed (%s): %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
