package recognition

import (
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
)

// Kind tags what a resolution produced
type Kind int

const (
	// KindMatch resolved to a registered identity
	KindMatch Kind = iota
	// KindNoMatch is a confident non-match: no face, or nothing close enough
	KindNoMatch
	// KindTransientFailure may succeed if attempted again
	KindTransientFailure
	// KindFatalFailure will never succeed for this payload
	KindFatalFailure
)

func (k Kind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindNoMatch:
		return "no_match"
	case KindTransientFailure:
		return "transient_failure"
	case KindFatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of one resolution. Err is set only for the failure kinds.
type Result struct {
	Kind             Kind
	Identifier       string
	DisplayReference string
	Distance         float64
	ServedFromCache  bool
	Reason           domain.Reason
	Err              error
}

// Terminal reports whether the result ends the job with a publishable outcome
func (r Result) Terminal() bool {
	return r.Kind == KindMatch || r.Kind == KindNoMatch
}

// Outcome converts a terminal result into the outcome published for a job.
func (r Result) Outcome(jobID string, attempts int, completedAt time.Time) *domain.RecognitionOutcome {
	return &domain.RecognitionOutcome{
		JobID:            jobID,
		Matched:          r.Kind == KindMatch,
		Identity:         r.Identifier,
		DisplayReference: r.DisplayReference,
		ServedFromCache:  r.ServedFromCache,
		Reason:           r.Reason,
		Distance:         r.Distance,
		Attempts:         attempts,
		CompletedAt:      completedAt.UTC(),
	}
}

func match(identifier, displayRef string, distance float64, fromCache bool) Result {
	return Result{
		Kind:             KindMatch,
		Identifier:       identifier,
		DisplayReference: displayRef,
		Distance:         distance,
		ServedFromCache:  fromCache,
		Reason:           domain.ReasonMatched,
	}
}

func noMatch(reason domain.Reason) Result {
	return Result{Kind: KindNoMatch, Reason: reason}
}

func transient(err error) Result {
	return Result{Kind: KindTransientFailure, Err: domain.NewRetryableError(err)}
}

func fatal(err error) Result {
	return Result{Kind: KindFatalFailure, Err: err}
}
