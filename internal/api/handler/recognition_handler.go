package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/face-recognition/internal/api/dto"
	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubmitAsync handles POST /api/v1/recognitions/async
// Stores the photo and queues a recognition job
func (h *RecognitionHandler) SubmitAsync(c *gin.Context) {
	image, err := readUpload(c, "file")
	if err != nil {
		respondError(c, h.logger, "Invalid upload", err)
		return
	}

	jobID, err := h.service.SubmitAsync(c.Request.Context(), image)
	if err != nil {
		respondError(c, h.logger, "Failed to submit recognition job", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		Status: "pending",
		JobID:  jobID,
	})
}

// ResolveSync handles POST /api/v1/recognitions/sync
// Runs recognition within the request
func (h *RecognitionHandler) ResolveSync(c *gin.Context) {
	image, err := readUpload(c, "file")
	if err != nil {
		respondError(c, h.logger, "Invalid upload", err)
		return
	}

	ctx := c.Request.Context()
	if h.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.syncTimeout)
		defer cancel()
	}

	outcome, err := h.service.ResolveSync(ctx, image)
	if err != nil {
		respondError(c, h.logger, "Recognition failed", err)
		return
	}

	if outcome.Reason == domain.ReasonNoFace {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  domain.ErrNoFaceDetected.Error(),
			"result": dto.NewOutcomeDTO(outcome),
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewOutcomeDTO(outcome))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job's status and its outcome once completed
func (h *RecognitionHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	view, err := h.service.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobStatusResponse(view.Status, view.Outcome))
}

// jobIDParam validates the job_id path parameter and writes a 400 when it is not a UUID
func (h *RecognitionHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}

	return jobID, true
}
