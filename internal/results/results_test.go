package results

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/jobqueue"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu       sync.Mutex
	bodies   [][]byte
	failures int
	// during runs while the broker holds the message, before it answers
	during func()
}

func (f *fakeBroker) PublishWithRetry(_ context.Context, routingKey string, body []byte, _ string) error {
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if routingKey != jobqueue.ResultsQueue {
		return errors.New("unexpected routing key " + routingKey)
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeBroker) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

// flakyRecordStore fails the first recordFailures SetNX calls
type flakyRecordStore struct {
	*kvstore.MemoryStore
	recordFailures int
}

func (s *flakyRecordStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.recordFailures > 0 {
		s.recordFailures--
		return false, errors.New("redis connection reset")
	}
	return s.MemoryStore.SetNX(ctx, key, value, ttl)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleOutcome(jobID string) *domain.RecognitionOutcome {
	return &domain.RecognitionOutcome{
		JobID:            jobID,
		Matched:          true,
		Identity:         "alice",
		DisplayReference: "photos/alice.jpg",
		Reason:           domain.ReasonMatched,
		Attempts:         1,
		CompletedAt:      time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_PublishesOnce(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	store := kvstore.NewMemoryStore()
	pub := NewPublisher(broker, store, time.Hour, discardLogger())

	published, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)
	assert.True(t, published)

	published, err = pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)
	assert.False(t, published, "redelivered job must not publish twice")

	assert.Equal(t, 1, broker.Count())

	done, err := pub.Published(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = pub.Published(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, done)

	var sent domain.RecognitionOutcome
	require.NoError(t, json.Unmarshal(broker.bodies[0], &sent))
	assert.Equal(t, "alice", sent.Identity)
}

func TestPublisher_OutcomeHiddenUntilBrokerAccepts(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	sub := NewSubscriber(store, discardLogger())
	broker := &fakeBroker{}
	pub := NewPublisher(broker, store, time.Hour, discardLogger())

	var (
		lookupErr error
		doneEarly bool
	)
	broker.during = func() {
		_, lookupErr = sub.Lookup(ctx, "job-1")
		doneEarly, _ = pub.Published(ctx, "job-1")
	}

	published, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)
	assert.True(t, published)

	assert.ErrorIs(t, lookupErr, domain.ErrJobNotFound, "pollers must not see an outcome the broker has not accepted")
	assert.False(t, doneEarly)

	outcome, err := sub.Lookup(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", outcome.Identity)
}

func TestPublisher_BrokerFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{failures: 1}
	store := kvstore.NewMemoryStore()
	pub := NewPublisher(broker, store, time.Hour, discardLogger())

	_, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.Error(t, err)

	_, err = store.Get(ctx, domain.ResultKeyPrefix+"job-1")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	done, err := pub.Published(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, done)

	published, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, 1, broker.Count())
}

func TestPublisher_UnrecordedOutcomeIsPublishedAgain(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	store := &flakyRecordStore{MemoryStore: kvstore.NewMemoryStore(), recordFailures: 1}
	pub := NewPublisher(broker, store, time.Hour, discardLogger())

	// the broker accepted the outcome but the attempt died before recording it
	_, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.Error(t, err)
	assert.Equal(t, 1, broker.Count())

	done, err := pub.Published(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, done, "redelivery must not be skipped")

	published, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, 2, broker.Count(), "a duplicate is preferred over a lost outcome")

	done, err = pub.Published(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSubscriber_ReceivesLiveOutcome(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := kvstore.NewMemoryStore()
	sub := NewSubscriber(store, discardLogger())
	pub := NewPublisher(&fakeBroker{}, store, time.Hour, discardLogger())

	ch, err := sub.Subscribe(ctx, "job-1")
	require.NoError(t, err)

	_, err = pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)

	select {
	case outcome, ok := <-ch:
		require.True(t, ok)
		assert.Equal(t, "job-1", outcome.JobID)
		assert.True(t, outcome.Matched)
	case <-ctx.Done():
		t.Fatal("timed out waiting for outcome")
	}

	_, ok := <-ch
	assert.False(t, ok, "channel closes after its single outcome")
}

func TestSubscriber_LateSubscriberGetsStoredOutcome(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	pub := NewPublisher(&fakeBroker{}, store, time.Hour, discardLogger())

	_, err := pub.Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)

	ch, err := NewSubscriber(store, discardLogger()).Subscribe(ctx, "job-1")
	require.NoError(t, err)

	outcome, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "alice", outcome.Identity)
}

func TestSubscriber_ClosesOnContextEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewSubscriber(kvstore.NewMemoryStore(), discardLogger()).Subscribe(ctx, "dead-job")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestSubscriber_Lookup(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	sub := NewSubscriber(store, discardLogger())

	_, err := sub.Lookup(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = NewPublisher(&fakeBroker{}, store, time.Hour, discardLogger()).Publish(ctx, sampleOutcome("job-1"))
	require.NoError(t, err)

	outcome, err := sub.Lookup(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "photos/alice.jpg", outcome.DisplayReference)
}
