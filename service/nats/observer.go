package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
)

// publishTimeout bounds a single event publish from the observer.
const publishTimeout = 5 * time.Second

// NewObserver returns a pipeline observer that publishes every terminal
// submission. Publishing happens off the caller's goroutine; failures are
// logged and dropped.
func NewObserver(pub Publisher, logger *slog.Logger) pipeline.Observer {
	return func(ev pipeline.Event) {
		if !ev.Submission.State.Terminal() {
			return
		}
		event := FromSubmission(ev.Submission)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := pub.PublishSubmission(ctx, event); err != nil {
				logger.Error("failed to publish submission event",
					"submission_id", event.SubmissionID,
					"subject", event.Subject(),
					"error", err,
				)
			}
		}()
	}
}
