// Package jobstatus records where each job is in its lifecycle so pollers can observe it.
package jobstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
)

// DefaultTTL bounds how long a status survives after its last update
const DefaultTTL = 24 * time.Hour

// Status is the last known state of a job
type Status struct {
	JobID     string          `json:"job_id"`
	State     domain.JobState `json:"status"`
	Attempts  int             `json:"attempt_count"`
	Error     string          `json:"error_message,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Tracker stores statuses under face_job_status:<job_id>
type Tracker struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewTracker creates a status tracker
func NewTracker(store kvstore.Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{store: store, ttl: ttl, now: time.Now}
}

// Set overwrites the job's status
func (t *Tracker) Set(ctx context.Context, jobID string, state domain.JobState, attempts int, errMsg string) error {
	data, err := json.Marshal(Status{
		JobID:     jobID,
		State:     state,
		Attempts:  attempts,
		Error:     errMsg,
		UpdatedAt: t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	if err := t.store.Set(ctx, domain.StatusKeyPrefix+jobID, data, t.ttl); err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}
	return nil
}

// SetUnlessTerminal writes the status only while the job has not reached a terminal
// state. It reports whether it wrote. The check and the write are not atomic; a
// racing terminal write can still be overwritten, which the next update corrects.
func (t *Tracker) SetUnlessTerminal(ctx context.Context, jobID string, state domain.JobState, attempts int, errMsg string) (bool, error) {
	current, err := t.Get(ctx, jobID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
	case err != nil:
		return false, err
	case current.State.IsTerminal():
		return false, nil
	}

	if err := t.Set(ctx, jobID, state, attempts, errMsg); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the job's status or domain.ErrJobNotFound
func (t *Tracker) Get(ctx context.Context, jobID string) (*Status, error) {
	raw, err := t.store.Get(ctx, domain.StatusKeyPrefix+jobID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &status, nil
}
