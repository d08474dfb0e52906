package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/face-recognition/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordFailure(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(kvstore.NewMemoryStore(), 3, time.Hour)

	expected := []Decision{
		{Count: 1, Dead: false},
		{Count: 2, Dead: false},
		{Count: 3, Dead: true},
		{Count: 4, Dead: true},
	}

	for _, want := range expected {
		got, err := tracker.RecordFailure(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other, err := tracker.RecordFailure(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, 1, other.Count, "records are per job")
}

func TestTracker_RecordExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryStore(kvstore.WithClock(func() time.Time { return now }))
	tracker := NewTracker(store, 3, time.Hour)

	_, err := tracker.RecordFailure(ctx, "job-1")
	require.NoError(t, err)

	n, err := tracker.Count(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	now = now.Add(time.Hour + time.Second)
	n, err = tracker.Count(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewTracker_Defaults(t *testing.T) {
	tracker := NewTracker(kvstore.NewMemoryStore(), 0, 0)
	assert.Equal(t, DefaultMaxRetries, tracker.MaxRetries())
	assert.Equal(t, DefaultRecordTTL, tracker.ttl)
}
