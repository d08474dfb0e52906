// Package retry tracks per-job transient failure counts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
)

// Defaults for the retry record
const (
	DefaultMaxRetries = 3
	DefaultRecordTTL  = time.Hour
)

// Decision is the retry verdict after one more failure has been recorded
type Decision struct {
	Count int
	Dead  bool
}

// Tracker counts failures under face_retry:<job_id>. Records are never deleted,
// they expire one TTL after the last failure.
type Tracker struct {
	store      kvstore.Store
	maxRetries int
	ttl        time.Duration
}

// NewTracker creates a retry tracker; non-positive arguments fall back to the defaults
func NewTracker(store kvstore.Store, maxRetries int, ttl time.Duration) *Tracker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &Tracker{store: store, maxRetries: maxRetries, ttl: ttl}
}

// MaxRetries returns the configured failure budget
func (t *Tracker) MaxRetries() int {
	return t.maxRetries
}

// RecordFailure increments the job's failure count; the job is dead once the count reaches MaxRetries
func (t *Tracker) RecordFailure(ctx context.Context, jobID string) (Decision, error) {
	n, err := t.store.IncrWithTTL(ctx, domain.RetryKeyPrefix+jobID, t.ttl)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to update retry record: %w", err)
	}

	count := int(n)
	return Decision{Count: count, Dead: count >= t.maxRetries}, nil
}

// Count returns the recorded failures for a job, zero when no record exists
func (t *Tracker) Count(ctx context.Context, jobID string) (int, error) {
	raw, err := t.store.Get(ctx, domain.RetryKeyPrefix+jobID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read retry record: %w", err)
	}

	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("retry record holds non-integer value %q: %w", raw, err)
	}
	return n, nil
}
