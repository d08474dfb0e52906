// Package service implements the producer-facing operations behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/imageprep"
	"github.com/cuongbtq/face-recognition/internal/index"
	"github.com/cuongbtq/face-recognition/internal/jobstatus"
	"github.com/cuongbtq/face-recognition/internal/photostore"
	"github.com/cuongbtq/face-recognition/internal/recognition"
	"github.com/cuongbtq/face-recognition/internal/results"
	"github.com/cuongbtq/face-recognition/internal/sigcache"
	"github.com/cuongbtq/face-recognition/internal/usage"
	"github.com/google/uuid"
)

// JobQueue accepts new jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
}

// Config holds the collaborators of the recognition service
type Config struct {
	Logger       *slog.Logger
	Resolver     *recognition.Resolver
	Queue        JobQueue
	Status       *jobstatus.Tracker
	Results      *results.Subscriber
	Counter      *usage.Counter
	Index        index.Index
	Cache        *sigcache.Cache
	Photos       *photostore.Store
	MaxImageSide int
	// Now overrides the clock, used by tests
	Now func() time.Time
}

// RecognitionService submits jobs, resolves photos synchronously and manages identities
type RecognitionService struct {
	logger       *slog.Logger
	resolver     *recognition.Resolver
	queue        JobQueue
	status       *jobstatus.Tracker
	results      *results.Subscriber
	counter      *usage.Counter
	index        index.Index
	cache        *sigcache.Cache
	photos       *photostore.Store
	maxImageSide int
	now          func() time.Time
}

// JobView is what a poller sees of a job
type JobView struct {
	Status  *jobstatus.Status
	Outcome *domain.RecognitionOutcome
}

// Stats summarises usage of the service
type Stats struct {
	TotalRecognitions int64 `json:"total_recognitions"`
	Identities        int   `json:"identities"`
	CachedSignatures  int   `json:"cached_signatures"`
}

// ResetReport says what a reset removed
type ResetReport struct {
	PhotosRemoved       int `json:"photos_removed"`
	CacheEntriesFlushed int `json:"cache_entries_flushed"`
}

// NewRecognitionService creates a new RecognitionService
func NewRecognitionService(cfg *Config) *RecognitionService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RecognitionService{
		logger:       cfg.Logger,
		resolver:     cfg.Resolver,
		queue:        cfg.Queue,
		status:       cfg.Status,
		results:      cfg.Results,
		counter:      cfg.Counter,
		index:        cfg.Index,
		cache:        cfg.Cache,
		photos:       cfg.Photos,
		maxImageSide: cfg.MaxImageSide,
		now:          now,
	}
}

// SubmitAsync stores the photo, enqueues a job for it and returns the job id
func (s *RecognitionService) SubmitAsync(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty upload", domain.ErrInvalidImage)
	}

	jobID := uuid.NewString()

	path, err := s.photos.SavePending(jobID, image)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	job := &domain.Job{
		JobID:       jobID,
		ImagePath:   path,
		SubmittedAt: s.now().UTC(),
	}

	// PENDING goes in before the job is visible to workers so it never overwrites their progress
	if err := s.status.Set(ctx, jobID, domain.JobStatePending, 0, ""); err != nil {
		s.discardUpload(path)
		return "", fmt.Errorf("failed to record job status: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.discardUpload(path)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Recognition job submitted",
		slog.String("job_id", jobID),
		slog.Int("image_size", len(image)),
	)

	return jobID, nil
}

func (s *RecognitionService) discardUpload(path string) {
	if err := s.photos.Remove(path); err != nil {
		s.logger.Warn("Failed to remove upload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// ResolveSync runs recognition in the request. Confident non-matches, including
// photos without a face, are returned as outcomes; failures are returned as errors.
func (s *RecognitionService) ResolveSync(ctx context.Context, image []byte) (*domain.RecognitionOutcome, error) {
	result := s.resolver.Resolve(ctx, image)
	if !result.Terminal() {
		return nil, result.Err
	}

	return result.Outcome("", 0, s.now()), nil
}

// SubscribeResult yields the job's outcome at most once. The channel closes without
// a value when ctx ends before an outcome exists.
func (s *RecognitionService) SubscribeResult(ctx context.Context, jobID string) (<-chan domain.RecognitionOutcome, error) {
	return s.results.Subscribe(ctx, jobID)
}

// UsageCount returns the number of successful recognitions
func (s *RecognitionService) UsageCount(ctx context.Context) (int64, error) {
	return s.counter.Value(ctx)
}

// JobStatus returns the job's status and, once it completed, its outcome
func (s *RecognitionService) JobStatus(ctx context.Context, jobID string) (*JobView, error) {
	status, err := s.status.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobView{Status: status}
	if status.State != domain.JobStateSucceeded && status.State != domain.JobStateUnmatched {
		return view, nil
	}

	outcome, err := s.results.Lookup(ctx, jobID)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}
	view.Outcome = outcome

	return view, nil
}

// RegisterIdentity saves the photo and adds its face to the index, replacing any
// earlier registration under the same identifier
func (s *RecognitionService) RegisterIdentity(ctx context.Context, identifier string, image []byte) (*domain.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.ErrIdentityRequired
	}

	normalized, err := imageprep.Normalize(image, s.maxImageSide)
	if err != nil {
		return nil, err
	}

	// Encode normalises the raw upload itself, exactly as a recognition request would
	signatures, err := s.resolver.Encode(ctx, image)
	if err != nil {
		return nil, err
	}

	if len(signatures) == 0 {
		return nil, domain.ErrNoFaceDetected
	}

	path, err := s.photos.SaveIdentityPhoto(identifier, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to store identity photo: %w", err)
	}

	identity := domain.Identity{
		Identifier:       identifier,
		DisplayReference: path,
		CreatedAt:        s.now().UTC(),
	}

	if err := s.index.Upsert(ctx, identity, signatures[0]); err != nil {
		return nil, fmt.Errorf("failed to index identity: %w", err)
	}

	s.logger.Info("Identity registered",
		slog.String("identifier", identifier),
		slog.Int("faces_detected", len(signatures)),
	)

	return &identity, nil
}

// ListIdentities returns up to pageSize+1 identities after the cursor, newest first
func (s *RecognitionService) ListIdentities(ctx context.Context, pageSize int, cursor *index.Cursor) ([]domain.Identity, error) {
	return s.index.List(ctx, index.Filter{PageSize: pageSize, Cursor: cursor})
}

// Stats returns usage figures
func (s *RecognitionService) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.counter.Value(ctx)
	if err != nil {
		return nil, err
	}

	identities, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}

	cached, err := s.cache.Len(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalRecognitions: total,
		Identities:        identities,
		CachedSignatures:  cached,
	}, nil
}

// Reset removes every registered identity, its photo and every cached signature.
// Pending uploads of in-flight jobs are kept.
func (s *RecognitionService) Reset(ctx context.Context) (*ResetReport, error) {
	removed, err := s.photos.Reset()
	if err != nil {
		return nil, fmt.Errorf("failed to remove photos: %w", err)
	}

	if err := s.index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset index: %w", err)
	}

	flushed, err := s.cache.Flush(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Recognition data reset",
		slog.Int("photos_removed", removed),
		slog.Int("cache_entries_flushed", flushed),
	)

	return &ResetReport{PhotosRemoved: removed, CacheEntriesFlushed: flushed}, nil
}
