package domain

import (
	"fmt"
	"time"
)

// Job is one recognition request travelling through the job queue.
// The payload is either inline image bytes or a path to bytes written by the ingress.
type Job struct {
	JobID        string    `json:"job_id"`
	ImagePath    string    `json:"path,omitempty"`
	Image        []byte    `json:"image,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Validate reports ErrInvalidPayload when the job lacks an identifier or a payload reference
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("%w: missing job_id", ErrInvalidPayload)
	}

	if j.ImagePath == "" && len(j.Image) == 0 {
		return fmt.Errorf("%w: missing image payload", ErrInvalidPayload)
	}

	return nil
}

// Requeued returns the copy of the job that is published for the next attempt.
func (j *Job) Requeued() *Job {
	next := *j
	if j.Image != nil {
		next.Image = append([]byte(nil), j.Image...)
	}
	return &next
}
