package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/jobqueue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets up RabbitMQ consumer with QoS and returns delivery channel
func (w *Worker) setupConsumer(ctx context.Context) (<-chan amqp.Delivery, error) {
	// prefetch_count bounds the unacknowledged deliveries held by this worker
	if err := w.source.Qos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	// Consumer tag is the worker ID; auto-ack is off for manual acknowledgment
	deliveries, err := w.source.Consume(w.queue.Name(), w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queue.Name()),
	)

	return deliveries, nil
}

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery
// channel, which happens when the connection or channel is lost
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to worker pool.
// It returns ErrDeliveriesClosed when the broker stops delivering and nil on shutdown.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Error("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			job, err := jobqueue.Decode(delivery.Body)
			if err != nil {
				w.logger.Error("Dropping malformed job message",
					slog.String("error", err.Error()),
					slog.Int("body_size", len(delivery.Body)),
				)
				// NACK without requeue - malformed messages go to the DLQ if one is configured
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if _, err := uuid.Parse(job.JobID); err != nil {
				w.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", job.JobID),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK message with invalid job_id",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			w.markReceived(ctx, job)

			msg := &jobMessage{job: job, delivery: delivery}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", job.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// NACK the message so it can be reprocessed
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			case <-w.stopChan:
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			}
		}
	}
}

// markReceived records the dequeue unless the job already finished, which happens
// when a completed job is delivered again
func (w *Worker) markReceived(ctx context.Context, job *domain.Job) {
	if w.status == nil {
		return
	}
	if _, err := w.status.SetUnlessTerminal(ctx, job.JobID, domain.JobStateReceived, job.AttemptCount, ""); err != nil {
		w.logger.Warn("Failed to update job status",
			slog.String("job_id", job.JobID),
			slog.String("status", string(domain.JobStateReceived)),
			slog.String("error", err.Error()),
		)
	}
}
