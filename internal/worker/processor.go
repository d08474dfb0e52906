package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/recognition"
)

// processJob runs one attempt of a job through the retry state machine.
//
//	nil                      outcome published or retry scheduled: ACK
//	RetryableError           retry bookkeeping failed: NACK with requeue
//	ErrMaxRetriesExceeded    job is DEAD: ACK, no outcome
//	anything else            job dropped as unprocessable: ACK, no outcome
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	// a redelivered job whose outcome already went out needs no second attempt
	if done, err := w.publisher.Published(ctx, job.JobID); err == nil && done {
		w.logger.Info("Job already completed, skipping",
			slog.String("job_id", job.JobID),
		)
		return nil
	}

	job.AttemptCount++

	w.logger.Info("Processing job",
		slog.String("job_id", job.JobID),
		slog.String("worker_id", w.workerID),
		slog.Int("attempt", job.AttemptCount),
	)
	w.setStatus(ctx, job, domain.JobStateProcessing, "")

	image, err := w.loadPayload(job)
	if err != nil {
		return w.scheduleRetry(ctx, job, err)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result := w.resolver.Resolve(jobCtx, image)

	switch result.Kind {
	case recognition.KindMatch, recognition.KindNoMatch:
		return w.complete(ctx, job, result)

	case recognition.KindFatalFailure:
		w.logger.Error("Job payload cannot be recognized, dropping",
			slog.String("job_id", job.JobID),
			slog.String("error", result.Err.Error()),
		)
		w.setStatus(ctx, job, domain.JobStateDropped, result.Err.Error())
		w.removePayload(job)
		return fmt.Errorf("job dropped: %w", result.Err)

	default:
		return w.scheduleRetry(ctx, job, result.Err)
	}
}

// complete publishes the terminal outcome for a match or a confident non-match
func (w *Worker) complete(ctx context.Context, job *domain.Job, result recognition.Result) error {
	outcome := result.Outcome(job.JobID, job.AttemptCount, w.now())

	published, err := w.publisher.Publish(ctx, outcome)
	if err != nil {
		w.logger.Error("Failed to publish outcome",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return w.scheduleRetry(ctx, job, err)
	}

	if !published {
		w.logger.Info("Duplicate delivery of a completed job",
			slog.String("job_id", job.JobID),
		)
	}

	w.setStatus(ctx, job, outcome.State(), "")
	w.removePayload(job)

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.Bool("matched", outcome.Matched),
		slog.String("reason", string(outcome.Reason)),
		slog.Bool("served_from_cache", outcome.ServedFromCache),
		slog.Int("attempts", job.AttemptCount),
	)
	return nil
}

// scheduleRetry records a transient failure and either requeues a fresh copy of
// the job or declares it dead
func (w *Worker) scheduleRetry(ctx context.Context, job *domain.Job, cause error) error {
	if cause == nil {
		cause = errors.New("unknown transient failure")
	}

	decision, err := w.retries.RecordFailure(ctx, job.JobID)
	if err != nil {
		w.logger.Error("Failed to update retry record",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("retry record unavailable: %w", err))
	}

	if decision.Dead {
		w.logger.Warn("Job exceeded max retries",
			slog.String("job_id", job.JobID),
			slog.Int("retry_count", decision.Count),
			slog.Int("max_retries", w.retries.MaxRetries()),
			slog.String("error", cause.Error()),
		)
		w.setStatus(ctx, job, domain.JobStateDead, cause.Error())
		w.removePayload(job)
		return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, cause)
	}

	if err := w.queue.Enqueue(ctx, job.Requeued()); err != nil {
		w.logger.Error("Failed to requeue job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("requeue failed: %w", err))
	}

	w.logger.Info("Job will be retried",
		slog.String("job_id", job.JobID),
		slog.Int("retry_count", decision.Count),
		slog.Int("max_retries", w.retries.MaxRetries()),
		slog.String("error", cause.Error()),
	)
	w.setStatus(ctx, job, domain.JobStateRetryScheduled, cause.Error())
	return nil
}

func (w *Worker) loadPayload(job *domain.Job) ([]byte, error) {
	if len(job.Image) > 0 {
		return job.Image, nil
	}
	if w.payloads == nil {
		return nil, fmt.Errorf("no payload store configured for %s", job.ImagePath)
	}
	return w.payloads.Read(job.ImagePath)
}

func (w *Worker) removePayload(job *domain.Job) {
	if job.ImagePath == "" || w.payloads == nil {
		return
	}
	if err := w.payloads.Remove(job.ImagePath); err != nil {
		w.logger.Warn("Failed to remove job payload",
			slog.String("job_id", job.JobID),
			slog.String("path", job.ImagePath),
			slog.String("error", err.Error()),
		)
	}
}

// setStatus is best effort; status only informs pollers
func (w *Worker) setStatus(ctx context.Context, job *domain.Job, state domain.JobState, errMsg string) {
	if w.status == nil {
		return
	}
	if err := w.status.Set(ctx, job.JobID, state, job.AttemptCount, errMsg); err != nil {
		w.logger.Warn("Failed to update job status",
			slog.String("job_id", job.JobID),
			slog.String("status", string(state)),
			slog.String("error", err.Error()),
		)
	}
}
