package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/db"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Listings is the catalog surface the API reads from.
type Listings interface {
	Query(f catalog.RarityFilter, page int) (catalog.ViewState, error)
	Refresh(ctx context.Context) (catalog.RefreshResult, error)
	RefreshedAt() time.Time
}

// ItemLookup answers per-item and per-owner questions.
type ItemLookup interface {
	Get(ctx context.Context, id uint64) (catalog.ListingRecord, error)
	ListOwned(ctx context.Context, owner string, limit, offset uint64) ([]catalog.ListingRecord, error)
}

// Submitter runs write intents to completion.
type Submitter interface {
	Submit(ctx context.Context, intent pipeline.Intent) (pipeline.Result, error)
}

// SubmissionStore reads the submission journal.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (*pipeline.Submission, error)
	ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*pipeline.Submission, error)
}

// Dependencies are the collaborators the handlers use. Store and Stream are
// optional; their routes are not registered when nil.
type Dependencies struct {
	Listings  Listings
	Lookup    ItemLookup
	Balances  catalog.BalanceReader
	Submitter Submitter
	Store     SubmissionStore
	Stream    *SSEPublisher
}

// Server represents the HTTP server for the marketplace API.
type Server struct {
	addr    string
	deps    Dependencies
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, deps Dependencies, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		deps:    deps,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Catalog routes
	route("GET /api/v1/listings", "/api/v1/listings", handleListListings(s.deps.Listings, s.logger))
	route("GET /api/v1/listings/{id}", "/api/v1/listings/{id}", handleGetListing(s.deps.Lookup, s.logger))
	route("POST /api/v1/listings/refresh", "/api/v1/listings/refresh", handleRefreshListings(s.deps.Listings, s.logger))

	// Account routes
	route("GET /api/v1/accounts/{address}/balance", "/api/v1/accounts/{address}/balance", handleGetBalance(s.deps.Balances, s.logger))
	route("GET /api/v1/accounts/{address}/items", "/api/v1/accounts/{address}/items", handleListOwnedItems(s.deps.Lookup, s.logger))

	// Write routes
	route("POST /api/v1/mint", "/api/v1/mint", handleMint(s.deps.Submitter, s.logger))
	route("POST /api/v1/listings/{id}/sale", "/api/v1/listings/{id}/sale", handleListForSale(s.deps.Submitter, s.logger))

	// Submission journal (if a database is configured)
	if s.deps.Store != nil {
		route("GET /api/v1/submissions", "/api/v1/submissions", handleListSubmissions(s.deps.Store, s.logger))
		route("GET /api/v1/submissions/{id}", "/api/v1/submissions/{id}", handleGetSubmission(s.deps.Store, s.logger))
	} else {
		s.logger.Warn("submission store not configured, submission endpoints disabled")
	}

	// SSE streaming endpoints (if NATS is configured)
	if s.deps.Stream != nil {
		mux.Handle("GET /api/v1/stream/submissions/{action}", handleStreamSubmissions(s.deps.Stream, s.logger))
		mux.Handle("GET /api/v1/stream/submissions", handleStreamSubmissions(s.deps.Stream, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.Handle("GET /health", handleHealth(s.deps))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the stream first (disconnects all SSE clients)
	if s.deps.Stream != nil {
		s.deps.Stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
