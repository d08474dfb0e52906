// Package sigcache is the short-lived signature cache consulted before the similarity index.
package sigcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
)

// DefaultTTL is how long an entry stays valid after an authoritative match
const DefaultTTL = time.Hour

// Entry is one cached signature-to-identity association
type Entry struct {
	Signature        domain.Signature `json:"encoding"`
	Identifier       string           `json:"identifier"`
	DisplayReference string           `json:"photo"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// Hit is the nearest live entry for a query signature
type Hit struct {
	Entry
	Distance float64
}

// Config holds cache configuration
type Config struct {
	Store  kvstore.Store
	TTL    time.Duration
	Logger *slog.Logger
	// Now overrides the clock, used by tests
	Now func() time.Time
}

// Cache stores signatures under face_cache:<digest> with a store-level TTL.
// Entries are also checked against their own expires_at so a store without
// native expiry still honours the TTL.
type Cache struct {
	store  kvstore.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new signature cache
func New(cfg *Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		store:  cfg.Store,
		ttl:    ttl,
		logger: logger,
		now:    now,
	}
}

// Nearest returns the closest non-expired entry, or nil when the cache holds none.
// Every entry is compared; there is no approximate shortcut.
func (c *Cache) Nearest(ctx context.Context, sig domain.Signature) (*Hit, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return nil, err
	}

	var best *Hit
	for _, e := range entries {
		d := domain.EuclideanDistance(sig, e.Signature)
		if best == nil || d < best.Distance {
			best = &Hit{Entry: e, Distance: d}
		}
	}

	return best, nil
}

// Put caches the signature for the identity an authoritative lookup resolved it to.
func (c *Cache) Put(ctx context.Context, sig domain.Signature, identifier, displayRef string) (*Entry, error) {
	entry := &Entry{
		Signature:        sig,
		Identifier:       identifier,
		DisplayReference: displayRef,
		ExpiresAt:        c.now().Add(c.ttl).UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.store.Set(ctx, domain.CacheKeyPrefix+sig.Key(), data, c.ttl); err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}

	c.logger.Debug("Signature cached",
		slog.String("identifier", identifier),
		slog.Time("expires_at", entry.ExpiresAt),
	)

	return entry, nil
}

// Len returns the number of live entries
func (c *Cache) Len(ctx context.Context) (int, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Flush removes every cache entry and returns how many keys were deleted
func (c *Cache) Flush(ctx context.Context) (int, error) {
	keys, err := c.store.Scan(ctx, domain.CacheKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := c.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to delete cache keys: %w", err)
	}

	c.logger.Info("Signature cache flushed", slog.Int("entries", len(keys)))

	return len(keys), nil
}

// entries loads every live entry. Undecodable entries are skipped.
func (c *Cache) entries(ctx context.Context) ([]Entry, error) {
	keys, err := c.store.Scan(ctx, domain.CacheKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entries: %w", err)
	}

	now := c.now()
	entries := make([]Entry, 0, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}

		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Warn("Skipping malformed cache entry",
				slog.String("key", keys[i]),
				slog.String("error", err.Error()),
			)
			continue
		}

		if now.After(e.ExpiresAt) {
			continue
		}

		entries = append(entries, e)
	}

	return entries, nil
}
