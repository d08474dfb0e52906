// Package jobqueue carries recognition jobs from producers to workers over RabbitMQ.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/domain"
)

// Durable queue names
const (
	JobsQueue    = "face_recognition_jobs"
	ResultsQueue = "face_recognition_success"
)

const contentTypeJSON = "application/json"

// Publisher is the broker side used to publish messages, implemented by *rabbitmq.Client
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Queue enqueues jobs as persistent JSON messages
type Queue struct {
	publisher Publisher
	name      string
	logger    *slog.Logger
}

// New creates a queue publishing to the named durable queue
func New(publisher Publisher, name string, logger *slog.Logger) *Queue {
	if name == "" {
		name = JobsQueue
	}
	return &Queue{
		publisher: publisher,
		name:      name,
		logger:    logger,
	}
}

// Name returns the queue name consumers should read from
func (q *Queue) Name() string {
	return q.name
}

// Enqueue publishes the job to the tail of the queue. Requeues use the same call with a fresh copy.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.publisher.PublishWithRetry(ctx, q.name, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.Int("attempt_count", job.AttemptCount),
		slog.String("queue", q.name),
	)
	return nil
}

// Decode parses a delivery body into a job, wrapping any problem in domain.ErrInvalidPayload
func Decode(body []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return &job, nil
}
