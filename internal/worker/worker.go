// Package worker drains the job queue and runs each job through recognition,
// retry scheduling and result publication.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/recognition"
	"github.com/cuongbtq/face-recognition/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource is the consuming side of the broker, implemented by *rabbitmq.Client
type DeliverySource interface {
	Qos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// JobQueue puts a fresh copy of a job back on the queue
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Name() string
}

// Resolver runs the recognition algorithm on one image
type Resolver interface {
	Resolve(ctx context.Context, image []byte) recognition.Result
}

// OutcomePublisher publishes a job's outcome and records it for pollers
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome *domain.RecognitionOutcome) (bool, error)
	Published(ctx context.Context, jobID string) (bool, error)
}

// RetryTracker records transient failures per job
type RetryTracker interface {
	RecordFailure(ctx context.Context, jobID string) (retry.Decision, error)
	MaxRetries() int
}

// StatusTracker records where each job is in its lifecycle
type StatusTracker interface {
	Set(ctx context.Context, jobID string, state domain.JobState, attempts int, errMsg string) error
	SetUnlessTerminal(ctx context.Context, jobID string, state domain.JobState, attempts int, errMsg string) (bool, error)
}

// PayloadStore reads and removes uploads referenced by path
type PayloadStore interface {
	Read(path string) ([]byte, error)
	Remove(path string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Source        DeliverySource
	Queue         JobQueue
	Resolver      Resolver
	Publisher     OutcomePublisher
	Retries       RetryTracker
	Status        StatusTracker
	Payloads      PayloadStore
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	// Now overrides the clock used for outcome timestamps
	Now func() time.Time
}

// Worker represents the background recognition worker
type Worker struct {
	logger        *slog.Logger
	source        DeliverySource
	queue         JobQueue
	resolver      Resolver
	publisher     OutcomePublisher
	retries       RetryTracker
	status        StatusTracker
	payloads      PayloadStore
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	now           func() time.Time
	jobsChan      chan *jobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// jobMessage is a decoded job together with the delivery that carried it
type jobMessage struct {
	job      *domain.Job
	delivery amqp.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		queue:         cfg.Queue,
		resolver:      cfg.Resolver,
		publisher:     cfg.Publisher,
		retries:       cfg.Retries,
		status:        cfg.Status,
		payloads:      cfg.Payloads,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		now:           now,
		jobsChan:      make(chan *jobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start subscribes to the job queue and processes jobs until ctx is canceled.
// It returns ErrDeliveriesClosed if the broker stops delivering first, so the
// caller can exit and be restarted.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Int("max_retries", w.retries.MaxRetries()),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	dispatchErr := make(chan error, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		dispatchErr <- w.startMessageDispatcher(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	case err := <-dispatchErr:
		if err != nil {
			return fmt.Errorf("worker %s stopped consuming: %w", w.workerID, err)
		}
		return nil
	}
}

// Stop gracefully stops the worker, waiting for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
