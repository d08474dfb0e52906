// Package index is the authoritative similarity index of registered identities.
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
)

// Backend names accepted by configuration
const (
	BackendPGVector = "pgvector"
	BackendHNSW     = "hnsw"
)

// Index resolves signatures to registered identities.
// Nearest returns nil without error when the index is empty.
type Index interface {
	Upsert(ctx context.Context, identity domain.Identity, sig domain.Signature) error
	Nearest(ctx context.Context, sig domain.Signature) (*domain.Neighbor, error)
	List(ctx context.Context, filter Filter) ([]domain.Identity, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// Filter pages through identities newest first.
// List returns up to PageSize+1 rows so callers can tell whether another page exists.
type Filter struct {
	PageSize int
	Cursor   *Cursor
}

// Cursor is the position after the last identity of the previous page
type Cursor struct {
	CreatedAt  time.Time
	Identifier string
}

// before reports whether id sorts after the cursor in newest-first order
func (c *Cursor) before(id domain.Identity) bool {
	if id.CreatedAt.Equal(c.CreatedAt) {
		return id.Identifier < c.Identifier
	}
	return id.CreatedAt.Before(c.CreatedAt)
}

func checkDimension(sig domain.Signature, dimension int) error {
	if dimension > 0 && len(sig) != dimension {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(sig), dimension)
	}
	return nil
}
