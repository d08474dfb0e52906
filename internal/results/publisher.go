// Package results delivers recognition outcomes: durably on RabbitMQ for downstream
// consumers and per job through the shared store for waiting callers.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/jobqueue"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
)

// DefaultResultTTL is how long a stored outcome stays available to pollers
const DefaultResultTTL = 24 * time.Hour

// Publisher publishes each job's outcome and records it once
type Publisher struct {
	broker    jobqueue.Publisher
	store     kvstore.Store
	queue     string
	resultTTL time.Duration
	logger    *slog.Logger
}

// NewPublisher creates a result publisher
func NewPublisher(broker jobqueue.Publisher, store kvstore.Store, resultTTL time.Duration, logger *slog.Logger) *Publisher {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &Publisher{
		broker:    broker,
		store:     store,
		queue:     jobqueue.ResultsQueue,
		resultTTL: resultTTL,
		logger:    logger,
	}
}

// Published reports whether an outcome for the job has been published and recorded
func (p *Publisher) Published(ctx context.Context, jobID string) (bool, error) {
	_, err := p.store.Get(ctx, domain.ResultKeyPrefix+jobID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check result key: %w", err)
	}
	return true, nil
}

// Publish sends the outcome to the results queue and only then records it for
// pollers and subscribers, so a stored outcome always has a broker copy. It reports
// false without error when the outcome is already recorded, which happens on
// redelivery. A failure after the broker publish leaves nothing recorded and the
// next attempt publishes again: downstream consumers may see a duplicate but never
// miss an outcome.
func (p *Publisher) Publish(ctx context.Context, outcome *domain.RecognitionOutcome) (bool, error) {
	done, err := p.Published(ctx, outcome.JobID)
	if err != nil {
		return false, err
	}
	if done {
		p.logger.Info("Outcome already published, skipping",
			slog.String("job_id", outcome.JobID),
		)
		return false, nil
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return false, fmt.Errorf("failed to marshal outcome: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, p.queue, data, "application/json"); err != nil {
		return false, fmt.Errorf("failed to publish outcome: %w", err)
	}

	recorded, err := p.store.SetNX(ctx, domain.ResultKeyPrefix+outcome.JobID, data, p.resultTTL)
	if err != nil {
		return false, fmt.Errorf("outcome published but not recorded: %w", err)
	}
	if !recorded {
		// a concurrent attempt recorded first; pollers keep that copy
		p.logger.Warn("Outcome recorded by another attempt",
			slog.String("job_id", outcome.JobID),
		)
		return true, nil
	}

	if err := p.store.Publish(ctx, domain.ResultTopicPrefix+outcome.JobID, data); err != nil {
		// subscribers that miss this still find the stored copy
		p.logger.Warn("Failed to notify job subscribers",
			slog.String("job_id", outcome.JobID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("Outcome published",
		slog.String("job_id", outcome.JobID),
		slog.Bool("matched", outcome.Matched),
		slog.Bool("served_from_cache", outcome.ServedFromCache),
		slog.String("reason", string(outcome.Reason)),
	)
	return true, nil
}
