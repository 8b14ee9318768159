package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/nftmarket/service/metrics"
	natspkg "github.com/brojonat/nftmarket/service/nats"
	"github.com/brojonat/nftmarket/service/pipeline"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// WorkerConfig wires the recheck worker to its task queue and collaborators.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// MaxConcurrent bounds concurrent activity and workflow tasks. Zero means 10.
	MaxConcurrent int

	Ledger    TransactionReader
	Store     StoreInterface
	Refresher pipeline.Refresher
	Publisher natspkg.Publisher // nil: rechecked outcomes are not published
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Worker runs RecheckSubmissionWorkflow and its activities.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker dials Temporal and registers the recheck workflow and activities.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	logger := config.Logger.With("component", "recheck_worker", "task_queue", config.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", config.TemporalHost, err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrent,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrent,
	})

	w.RegisterWorkflowWithOptions(RecheckSubmissionWorkflow, workflow.RegisterOptions{Name: RecheckWorkflowName})

	// Struct registration names each activity after its method, which is what
	// the workflow's method-value ExecuteActivity calls resolve to.
	w.RegisterActivity(NewActivities(
		config.Ledger,
		config.Store,
		config.Refresher,
		config.Publisher,
		config.Metrics,
		logger,
	))

	logger.Info("recheck worker configured",
		"namespace", config.TemporalNamespace,
		"workflow", RecheckWorkflowName,
		"refresh_enabled", config.Refresher != nil,
		"publish_enabled", config.Publisher != nil,
	)

	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start blocks until the process is interrupted or Stop is called.
func (w *Worker) Start() error {
	w.logger.Info("starting recheck worker")
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("recheck worker stopped: %w", err)
	}
	w.logger.Info("recheck worker stopped")
	return nil
}

func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
}
