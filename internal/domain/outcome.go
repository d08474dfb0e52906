package domain

import "time"

// Reason explains a recognition outcome
type Reason string

const (
	ReasonMatched      Reason = "matched"
	ReasonNoFace       Reason = "no_face"
	ReasonUnrecognized Reason = "unrecognized"
)

// RecognitionOutcome is the terminal result of a job or of a synchronous resolution.
type RecognitionOutcome struct {
	JobID            string    `json:"job_id,omitempty"`
	Matched          bool      `json:"matched"`
	Identity         string    `json:"identity,omitempty"`
	DisplayReference string    `json:"display_reference,omitempty"`
	ServedFromCache  bool      `json:"served_from_cache"`
	Reason           Reason    `json:"reason"`
	Distance         float64   `json:"distance,omitempty"`
	Attempts         int       `json:"attempts,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// State maps the outcome onto the terminal job state it represents.
func (o *RecognitionOutcome) State() JobState {
	if o.Matched {
		return JobStateSucceeded
	}
	return JobStateUnmatched
}
