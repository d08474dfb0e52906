// Package usage keeps the running count of successful recognitions.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
)

// Counter is a single shared integer incremented atomically by the store.
// A redelivered job may count twice.
type Counter struct {
	store kvstore.Store
	key   string
}

// NewCounter creates a counter backed by the recognition_count key
func NewCounter(store kvstore.Store) *Counter {
	return &Counter{store: store, key: domain.RecognitionCounter}
}

// Increment adds one and returns the new total
func (c *Counter) Increment(ctx context.Context) (int64, error) {
	n, err := c.store.Incr(ctx, c.key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return n, nil
}

// Value returns the current total; a counter that was never incremented reads as zero
func (c *Counter) Value(ctx context.Context) (int64, error) {
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage counter: %w", err)
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("usage counter holds non-integer value %q: %w", raw, err)
	}
	return n, nil
}
