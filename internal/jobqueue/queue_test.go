package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMessage struct {
	routingKey  string
	body        []byte
	contentType string
}

type fakePublisher struct {
	messages []recordedMessage
	err      error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, routingKey string, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, recordedMessage{routingKey: routingKey, body: body, contentType: contentType})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_Enqueue(t *testing.T) {
	pub := &fakePublisher{}
	q := New(pub, "", discardLogger())

	job := &domain.Job{JobID: "3b5f2d4e-0000-4000-8000-000000000001", ImagePath: "/data/recognition/a.jpg", AttemptCount: 1}
	require.NoError(t, q.Enqueue(context.Background(), job))

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, JobsQueue, msg.routingKey)
	assert.Equal(t, "application/json", msg.contentType)

	var decoded domain.Job
	require.NoError(t, json.Unmarshal(msg.body, &decoded))
	assert.Equal(t, job.JobID, decoded.JobID)
	assert.Equal(t, 1, decoded.AttemptCount)
}

func TestQueue_EnqueueRejectsInvalidJob(t *testing.T) {
	pub := &fakePublisher{}
	q := New(pub, JobsQueue, discardLogger())

	err := q.Enqueue(context.Background(), &domain.Job{JobID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Empty(t, pub.messages)
}

func TestQueue_EnqueuePublishError(t *testing.T) {
	q := New(&fakePublisher{err: errors.New("channel closed")}, JobsQueue, discardLogger())

	err := q.Enqueue(context.Background(), &domain.Job{JobID: "x", Image: []byte{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "path job", body: `{"job_id":"j1","path":"/tmp/a.jpg","attempt_count":2}`},
		{name: "inline job", body: `{"job_id":"j1","image":"AQID"}`},
		{name: "not json", body: `{{`, wantErr: true},
		{name: "missing job id", body: `{"path":"/tmp/a.jpg"}`, wantErr: true},
		{name: "missing payload", body: `{"job_id":"j1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "j1", job.JobID)
		})
	}
}
