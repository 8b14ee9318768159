package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SSEPublisher relays submission events from JetStream to Server-Sent Events
// clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("nftmarket-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// subscribe creates an ephemeral consumer, removed by the server once the
// client is gone, delivering only events published from now on.
func (p *SSEPublisher) subscribe(ctx context.Context, subject string) (jetstream.Consumer, error) {
	return p.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) event(name string, data []byte) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flush()
}

func (s sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flush()
}

func (s sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// eventFilter keeps events matching the optional state and failure_kind
// query parameters.
type eventFilter struct {
	state       string
	failureKind string
}

func (f eventFilter) match(e natspkg.SubmissionEvent) bool {
	if f.state != "" && e.State != f.state {
		return false
	}
	return f.failureKind == "" || e.FailureKind == f.failureKind
}

// handleStreamSubmissions streams terminal submission events. Without an
// action path parameter every action is streamed.
func handleStreamSubmissions(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		action := r.PathValue("action")
		filter := eventFilter{
			state:       r.URL.Query().Get("state"),
			failureKind: r.URL.Query().Get("failure_kind"),
		}

		subject := natspkg.StreamSubjects
		if action != "" {
			subject = natspkg.SubjectPrefix + action
		}

		// Streams outlive the server's write timeout.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			logger.DebugContext(ctx, "could not clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		out := sseWriter{w: w, flusher: flusher}

		cons, err := publisher.subscribe(ctx, subject)
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer", "subject", subject, "error", err)
			out.event("error", []byte(`{"error": "failed to subscribe"}`))
			return
		}

		msgs := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgs <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to start consuming", "subject", subject, "error", err)
			out.event("error", []byte(`{"error": "failed to subscribe"}`))
			return
		}
		defer cc.Stop()

		hello, _ := json.Marshal(map[string]string{
			"subject":      subject,
			"state":        filter.state,
			"failure_kind": filter.failureKind,
		})
		out.event("connected", hello)
		logger.DebugContext(ctx, "SSE client connected", "subject", subject, "remote_addr", r.RemoteAddr)

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				out.comment("keepalive")

			case msg := <-msgs:
				var event natspkg.SubmissionEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(ctx, "dropping undecodable event", "subject", msg.Subject(), "error", err)
					msg.Ack()
					continue
				}
				if filter.match(event) {
					out.event("submission", msg.Data())
				}
				msg.Ack()

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "subject", subject, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
