package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by the embedded deployment and by tests.
// Expired keys are dropped lazily on access; a key is live up to and including its deadline.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	subscribers map[string][]*memorySubscription
	now         func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for expiry
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]memoryEntry),
		subscribers: make(map[string][]*memorySubscription),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup must be called with mu held
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) GetMany(_ context.Context, keys []string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(keys))
	for i, key := range keys {
		if e, ok := s.lookup(key); ok {
			out[i] = append([]byte(nil), e.value...)
		}
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.expiry(ttl),
	}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: s.expiry(ttl),
	}
	return true, nil
}

func (s *MemoryStore) incr(key string) (int64, memoryEntry, error) {
	e, ok := s.lookup(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, e, fmt.Errorf("value at %s is not an integer", key)
		}
		n = parsed
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, e, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, e, err := s.incr(key)
	if err != nil {
		return 0, err
	}
	s.entries[key] = e
	return n, nil
}

func (s *MemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, e, err := s.incr(key)
	if err != nil {
		return 0, err
	}
	e.expiresAt = s.expiry(ttl)
	s.entries[key] = e
	return n, nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := append([]*memorySubscription(nil), s.subscribers[channel]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(append([]byte(nil), payload...))
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   s,
		channel: channel,
		out:     make(chan []byte, 16),
	}

	s.mu.Lock()
	s.subscribers[channel] = append(s.subscribers[channel], sub)
	s.mu.Unlock()

	return sub, nil
}

func (s *MemoryStore) unsubscribe(sub *memorySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[sub.channel]
	for i, candidate := range subs {
		if candidate == sub {
			s.subscribers[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subscribers[sub.channel]) == 0 {
		delete(s.subscribers, sub.channel)
	}
}

type memorySubscription struct {
	store   *MemoryStore
	channel string

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

// deliver drops the message when the subscriber's buffer is full, like a slow Redis client
func (m *memorySubscription) deliver(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	select {
	case m.out <- payload:
	default:
	}
}

func (m *memorySubscription) Messages() <-chan []byte {
	return m.out
}

func (m *memorySubscription) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.out)
	m.mu.Unlock()

	m.store.unsubscribe(m)
	return nil
}
