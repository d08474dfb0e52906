// Package kvstore holds the shared key-value store used for cache entries,
// retry records, job status, stored outcomes and the usage counter.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("key not found")

// Store is the set of atomic key-value primitives shared by every worker and API instance.
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns one value per key; missing keys yield nil
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	// IncrWithTTL increments key and (re)arms its expiry in one atomic step
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Scan(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is an open pub/sub subscription on one channel
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
