package nats

import (
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
)

// SubmissionEvent is published when a submission reaches a terminal state.
// The subject is "market.submissions.{action}".
type SubmissionEvent struct {
	SubmissionID string `json:"submission_id"`
	Action       string `json:"action"`
	IntentKey    string `json:"intent_key"`

	State       string `json:"state"`
	FailureKind string `json:"failure_kind,omitempty"`
	Error       string `json:"error,omitempty"`

	// Hash is empty when the transaction was never broadcast.
	Hash string `json:"hash,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromSubmission converts a pipeline submission to an event for publishing.
func FromSubmission(sub pipeline.Submission) *SubmissionEvent {
	return &SubmissionEvent{
		SubmissionID: sub.ID,
		Action:       sub.Action,
		IntentKey:    sub.IntentKey,
		State:        string(sub.State),
		FailureKind:  string(sub.FailureKind),
		Error:        sub.Error,
		Hash:         sub.Hash,
		CreatedAt:    sub.CreatedAt,
		CompletedAt:  sub.UpdatedAt,
		PublishedAt:  time.Now().UTC(),
	}
}

// Subject returns the subject the event is published on.
func (e *SubmissionEvent) Subject() string {
	return SubjectPrefix + e.Action
}

// MsgID identifies one outcome of one submission for JetStream dedupe.
func (e *SubmissionEvent) MsgID() string {
	id := e.SubmissionID + ":" + e.State
	if e.FailureKind != "" {
		id += ":" + e.FailureKind
	}
	return id
}
