package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/face-recognition/internal/api/service"
	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// MaxUploadSize bounds the photo accepted by any upload endpoint
const MaxUploadSize = 10 << 20

// DefaultResultWaitTimeout bounds how long a websocket waits for a job's outcome
const DefaultResultWaitTimeout = 2 * time.Minute

// HealthCheck is one dependency checked by the health endpoint
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger            *slog.Logger
	Service           *service.RecognitionService
	HealthChecks      []HealthCheck
	ServiceName       string
	SyncTimeout       time.Duration
	ResultWaitTimeout time.Duration
}

// RecognitionHandler handles recognition and job HTTP requests
type RecognitionHandler struct {
	logger            *slog.Logger
	service           *service.RecognitionService
	syncTimeout       time.Duration
	resultWaitTimeout time.Duration
	upgrader          websocket.Upgrader
}

// NewRecognitionHandler creates a new RecognitionHandler instance
func NewRecognitionHandler(deps *Dependencies) *RecognitionHandler {
	wait := deps.ResultWaitTimeout
	if wait <= 0 {
		wait = DefaultResultWaitTimeout
	}

	return &RecognitionHandler{
		logger:            deps.Logger,
		service:           deps.Service,
		syncTimeout:       deps.SyncTimeout,
		resultWaitTimeout: wait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is open for the REST routes as well
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// IdentityHandler handles identity registration and listing
type IdentityHandler struct {
	logger  *slog.Logger
	service *service.RecognitionService
}

// NewIdentityHandler creates a new IdentityHandler instance
func NewIdentityHandler(deps *Dependencies) *IdentityHandler {
	return &IdentityHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// AdminHandler handles stats, reset and health
type AdminHandler struct {
	logger       *slog.Logger
	service      *service.RecognitionService
	healthChecks []HealthCheck
	serviceName  string
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger:       deps.Logger,
		service:      deps.Service,
		healthChecks: deps.HealthChecks,
		serviceName:  deps.ServiceName,
	}
}

// readUpload reads a multipart file field, bounded by MaxUploadSize
func readUpload(c *gin.Context, field string) ([]byte, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %s file is required", domain.ErrInvalidImage, field)
	}

	if fileHeader.Size > MaxUploadSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidImage, MaxUploadSize)
	}

	f, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidImage)
	}

	return data, nil
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidImage),
		errors.Is(err, domain.ErrIdentityRequired),
		errors.Is(err, domain.ErrNoFaceDetected):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes it with the mapped status. Internal details
// are only exposed for client errors.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Warn(msg,
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
	)
	c.JSON(status, gin.H{"error": err.Error()})
}
