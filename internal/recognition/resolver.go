// Package recognition resolves a photo to a registered identity, consulting the
// signature cache before the authoritative index.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/imageprep"
	"github.com/cuongbtq/face-recognition/internal/index"
	"github.com/cuongbtq/face-recognition/internal/sigcache"
	"github.com/cuongbtq/face-recognition/internal/usage"
)

// Default match thresholds. Both are Euclidean distances: smaller is closer.
const (
	DefaultCacheDistanceThreshold = 0.5
	DefaultIndexDistanceThreshold = 0.6
)

// Encoder turns an image into one signature per detected face
type Encoder interface {
	Encode(ctx context.Context, image []byte) ([]domain.Signature, error)
}

// Config holds resolver configuration
type Config struct {
	Encoder                Encoder
	Cache                  *sigcache.Cache
	Index                  index.Index
	Counter                *usage.Counter
	CacheDistanceThreshold float64
	IndexDistanceThreshold float64
	Dimension              int
	MaxImageSide           int
	Logger                 *slog.Logger
}

// Resolver runs the recognition algorithm shared by the sync path and the worker
type Resolver struct {
	encoder        Encoder
	cache          *sigcache.Cache
	index          index.Index
	counter        *usage.Counter
	cacheThreshold float64
	indexThreshold float64
	dimension      int
	maxImageSide   int
	logger         *slog.Logger
}

// NewResolver creates a new resolver
func NewResolver(cfg *Config) *Resolver {
	cacheThreshold := cfg.CacheDistanceThreshold
	if cacheThreshold <= 0 {
		cacheThreshold = DefaultCacheDistanceThreshold
	}

	indexThreshold := cfg.IndexDistanceThreshold
	if indexThreshold <= 0 {
		indexThreshold = DefaultIndexDistanceThreshold
	}

	return &Resolver{
		encoder:        cfg.Encoder,
		cache:          cfg.Cache,
		index:          cfg.Index,
		counter:        cfg.Counter,
		cacheThreshold: cacheThreshold,
		indexThreshold: indexThreshold,
		dimension:      cfg.Dimension,
		maxImageSide:   cfg.MaxImageSide,
		logger:         cfg.Logger,
	}
}

// Encode normalises the image and returns its signatures, failing on a wrong dimension.
// Registration shares it with Resolve so both see identical signatures.
func (r *Resolver) Encode(ctx context.Context, image []byte) ([]domain.Signature, error) {
	normalized, err := imageprep.Normalize(image, r.maxImageSide)
	if err != nil {
		return nil, err
	}

	signatures, err := r.encoder.Encode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	for _, sig := range signatures {
		if r.dimension > 0 && len(sig) != r.dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(sig), r.dimension)
		}
	}

	return signatures, nil
}

// Resolve runs the full algorithm for one image. It never panics on collaborator
// errors; every failure is reported through the result kind.
func (r *Resolver) Resolve(ctx context.Context, image []byte) Result {
	signatures, err := r.Encode(ctx, image)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidImage) || errors.Is(err, domain.ErrDimensionMismatch) {
			return fatal(err)
		}
		return transient(err)
	}

	if len(signatures) == 0 {
		return noMatch(domain.ReasonNoFace)
	}

	return r.ResolveSignature(ctx, signatures[0])
}

// ResolveSignature runs the cache-then-index lookup for an already encoded face.
func (r *Resolver) ResolveSignature(ctx context.Context, sig domain.Signature) Result {
	hit, err := r.cache.Nearest(ctx, sig)
	if err != nil {
		return transient(fmt.Errorf("signature cache lookup: %w", err))
	}

	if hit != nil && hit.Distance <= r.cacheThreshold {
		if _, err := r.counter.Increment(ctx); err != nil {
			return transient(err)
		}

		r.logger.Debug("Resolved from signature cache",
			slog.String("identifier", hit.Identifier),
			slog.Float64("distance", hit.Distance),
		)
		return match(hit.Identifier, hit.DisplayReference, hit.Distance, true)
	}

	neighbor, err := r.index.Nearest(ctx, sig)
	if err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return fatal(err)
		}
		return transient(fmt.Errorf("similarity index lookup: %w", err))
	}

	if neighbor == nil || neighbor.Distance > r.indexThreshold {
		return noMatch(domain.ReasonUnrecognized)
	}

	if _, err := r.cache.Put(ctx, sig, neighbor.Identifier, neighbor.DisplayReference); err != nil {
		return transient(err)
	}

	if _, err := r.counter.Increment(ctx); err != nil {
		return transient(err)
	}

	r.logger.Debug("Resolved from similarity index",
		slog.String("identifier", neighbor.Identifier),
		slog.Float64("distance", neighbor.Distance),
	)
	return match(neighbor.Identifier, neighbor.DisplayReference, neighbor.Distance, false)
}
