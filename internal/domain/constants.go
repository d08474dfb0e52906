package domain

// JobState is a step of the per-job retry state machine
type JobState string

// Job state constants
const (
	JobStatePending        JobState = "PENDING"
	JobStateReceived       JobState = "RECEIVED"
	JobStateProcessing     JobState = "PROCESSING"
	JobStateSucceeded      JobState = "SUCCEEDED"
	JobStateUnmatched      JobState = "UNMATCHED"
	JobStateRetryScheduled JobState = "RETRY_SCHEDULED"
	JobStateDead           JobState = "DEAD"
	JobStateDropped        JobState = "DROPPED"
)

// IsTerminal reports whether no further processing happens after this state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateUnmatched, JobStateDead, JobStateDropped:
		return true
	default:
		return false
	}
}

// Shared store key namespaces
const (
	CacheKeyPrefix     = "face_cache:"
	RetryKeyPrefix     = "face_retry:"
	StatusKeyPrefix    = "face_job_status:"
	ResultKeyPrefix    = "face_job_result:"
	ResultTopicPrefix  = "face_job_done:"
	RecognitionCounter = "recognition_count"
)
