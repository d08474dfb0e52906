package dto

import (
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/jobstatus"
)

type SubmitJobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

type OutcomeDTO struct {
	JobID           string  `json:"job_id,omitempty"`
	Matched         bool    `json:"matched"`
	Identity        string  `json:"identity,omitempty"`
	Photo           string  `json:"photo,omitempty"`
	ServedFromCache bool    `json:"served_from_cache"`
	Reason          string  `json:"reason"`
	Distance        float64 `json:"distance,omitempty"`
	Attempts        int     `json:"attempts,omitempty"`
	CompletedAt     string  `json:"completed_at"`
}

type JobStatusResponse struct {
	JobID        string      `json:"job_id"`
	Status       string      `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
	UpdatedAt    string      `json:"updated_at"`
	Result       *OutcomeDTO `json:"result,omitempty"`
}

type RegisterIdentityRequest struct {
	Identifier string `form:"identifier" binding:"required"`
}

type ListIdentitiesRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListIdentitiesResponse struct {
	Identities []IdentityDTO `json:"identities"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type IdentityDTO struct {
	Identifier string `json:"identifier"`
	Photo      string `json:"photo"`
	CreatedAt  string `json:"created_at"`
}

func NewOutcomeDTO(o *domain.RecognitionOutcome) OutcomeDTO {
	return OutcomeDTO{
		JobID:           o.JobID,
		Matched:         o.Matched,
		Identity:        o.Identity,
		Photo:           o.DisplayReference,
		ServedFromCache: o.ServedFromCache,
		Reason:          string(o.Reason),
		Distance:        o.Distance,
		Attempts:        o.Attempts,
		CompletedAt:     o.CompletedAt.Format(time.RFC3339),
	}
}

func NewJobStatusResponse(st *jobstatus.Status, outcome *domain.RecognitionOutcome) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:        st.JobID,
		Status:       string(st.State),
		AttemptCount: st.Attempts,
		ErrorMessage: st.Error,
		UpdatedAt:    st.UpdatedAt.Format(time.RFC3339),
	}
	if outcome != nil {
		result := NewOutcomeDTO(outcome)
		resp.Result = &result
	}
	return resp
}

func NewIdentityDTO(id domain.Identity) IdentityDTO {
	return IdentityDTO{
		Identifier: id.Identifier,
		Photo:      id.DisplayReference,
		CreatedAt:  id.CreatedAt.Format(time.RFC3339),
	}
}
