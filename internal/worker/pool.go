package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine.
// Each goroutine finishes one job before taking the next.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.job.JobID),
				slog.Uint64("delivery_tag", msg.delivery.DeliveryTag),
			)

			w.handleMessage(ctx, workerName, msg)
		}
	}
}

// handleMessage processes one job and settles its delivery. It never lets a
// job's failure escape into the loop.
func (w *Worker) handleMessage(ctx context.Context, workerName string, msg *jobMessage) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job processing panicked",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.job.JobID),
				slog.Any("panic", r),
			)
			if nackErr := msg.delivery.Nack(false, false); nackErr != nil {
				w.logger.Error("Failed to NACK message after panic",
					slog.String("job_id", msg.job.JobID),
					slog.String("error", nackErr.Error()),
				)
			}
		}
	}()

	err := w.processJob(ctx, msg.job)

	if err != nil {
		w.logger.Warn("Job ended without an outcome",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.job.JobID),
			slog.String("error", err.Error()),
		)
	}

	if w.shouldRedeliver(err) {
		requeue := domain.IsRetryable(err)
		if nackErr := msg.delivery.Nack(false, requeue); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.job.JobID),
				slog.String("error", nackErr.Error()),
			)
		} else {
			w.logger.Info("Message NACKed",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.job.JobID),
				slog.Bool("requeue", requeue),
			)
		}
		return
	}

	if ackErr := msg.delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.job.JobID),
			slog.String("error", ackErr.Error()),
		)
		return
	}

	w.logger.Debug("Message ACKed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.job.JobID),
	)
}

// shouldRedeliver decides between ACK and NACK for a processed job.
// Completed, requeued, dead and dropped jobs are all ACKed; only broker-level
// retries and invalid payloads are NACKed.
func (w *Worker) shouldRedeliver(err error) bool {
	if err == nil {
		return false
	}

	// Invalid payload - NACK without requeue
	if errors.Is(err, domain.ErrInvalidPayload) {
		return true
	}

	// Retry bookkeeping failed - let the broker redeliver the original
	if domain.IsRetryable(err) {
		return true
	}

	// Dead or dropped: terminal, ACK so the broker forgets it
	return false
}
