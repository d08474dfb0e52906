package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
)

// Subscriber lets callers wait for, or look up, a job's outcome
type Subscriber struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewSubscriber creates a result subscriber
func NewSubscriber(store kvstore.Store, logger *slog.Logger) *Subscriber {
	return &Subscriber{store: store, logger: logger}
}

// Lookup returns the stored outcome, or domain.ErrJobNotFound while none exists
func (s *Subscriber) Lookup(ctx context.Context, jobID string) (*domain.RecognitionOutcome, error) {
	raw, err := s.store.Get(ctx, domain.ResultKeyPrefix+jobID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome: %w", err)
	}

	return decodeOutcome(raw)
}

// Subscribe returns a channel that yields the job's outcome at most once and is then closed.
// It is closed without a value when ctx ends first, which is the only signal for dead jobs.
func (s *Subscriber) Subscribe(ctx context.Context, jobID string) (<-chan domain.RecognitionOutcome, error) {
	// subscribe before the lookup so an outcome published in between is not lost
	sub, err := s.store.Subscribe(ctx, domain.ResultTopicPrefix+jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to job %s: %w", jobID, err)
	}

	out := make(chan domain.RecognitionOutcome, 1)

	stored, err := s.Lookup(ctx, jobID)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		_ = sub.Close()
		return nil, err
	}
	if stored != nil {
		_ = sub.Close()
		out <- *stored
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub.Messages():
				if !ok {
					return
				}
				outcome, err := decodeOutcome(raw)
				if err != nil {
					s.logger.Warn("Ignoring malformed outcome notification",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
					continue
				}
				out <- *outcome
				return
			}
		}
	}()

	return out, nil
}

func decodeOutcome(raw []byte) (*domain.RecognitionOutcome, error) {
	var outcome domain.RecognitionOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return nil, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return &outcome, nil
}
