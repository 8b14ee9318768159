package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes terminal submission events.
type Publisher interface {
	// PublishSubmission publishes to "market.submissions.{action}".
	PublishSubmission(ctx context.Context, event *SubmissionEvent) error
	Close() error
}

const (
	StreamName = "MARKET_SUBMISSIONS"

	// SubjectPrefix is followed by the action name.
	SubjectPrefix  = "market.submissions."
	StreamSubjects = SubjectPrefix + "*"

	StreamRetention = 30 * 24 * time.Hour

	// DedupeWindow bounds how long JetStream remembers message IDs.
	DedupeWindow = 10 * time.Minute
)

// JetStreamPublisher publishes submission events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// SubmissionStreamConfig describes the stream holding submission events.
func SubmissionStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Terminal outcomes of marketplace write submissions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  DedupeWindow,
	}
}

// NewPublisher connects to natsURL and creates or updates the submission stream.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("nftmarket-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := js.CreateOrUpdateStream(ctx, SubmissionStreamConfig())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
		"messages", stream.CachedInfo().State.Msgs,
	)

	return &JetStreamPublisher{nc: nc, js: js, metrics: m, logger: logger}, nil
}

// PublishSubmission publishes one event. Retried publishes of the same
// outcome are deduplicated by JetStream; a recheck that changes the outcome
// is a new message.
func (p *JetStreamPublisher) PublishSubmission(ctx context.Context, event *SubmissionEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submission event: %w", err)
	}

	status := "success"
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.MsgID()))
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.RecordNATSPublish(subject, status, metrics.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish submission %s: %w", event.SubmissionID, err)
	}

	p.logger.DebugContext(ctx, "published submission event",
		"subject", subject,
		"submission_id", event.SubmissionID,
		"state", event.State,
	)
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Drain()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
