package domain

import "errors"

var (
	// ErrJobNotFound is returned when no status is known for a job id
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when a job message is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrMaxRetriesExceeded is returned when a job has exhausted its retry budget
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrNoFaceDetected is returned when the encoder finds no face in an image
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrInvalidImage is returned when image bytes cannot be decoded
	ErrInvalidImage = errors.New("invalid image")

	// ErrDimensionMismatch is returned when a signature has the wrong length
	ErrDimensionMismatch = errors.New("signature dimension mismatch")

	// ErrIdentityRequired is returned when an identity is registered without an identifier
	ErrIdentityRequired = errors.New("identifier is required")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
