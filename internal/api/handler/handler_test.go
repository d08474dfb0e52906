package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/face-recognition/internal/api/dto"
	"github.com/cuongbtq/face-recognition/internal/api/service"
	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/cuongbtq/face-recognition/internal/index"
	"github.com/cuongbtq/face-recognition/internal/jobqueue"
	"github.com/cuongbtq/face-recognition/internal/jobstatus"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
	"github.com/cuongbtq/face-recognition/internal/photostore"
	"github.com/cuongbtq/face-recognition/internal/recognition"
	"github.com/cuongbtq/face-recognition/internal/results"
	"github.com/cuongbtq/face-recognition/internal/sigcache"
	"github.com/cuongbtq/face-recognition/internal/usage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// colorEncoder uses the centre pixel as the face signature; black means no face
type colorEncoder struct {
	mu  sync.Mutex
	err error
}

func (e *colorEncoder) Encode(_ context.Context, data []byte) ([]domain.Signature, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	r, g, bl, _ := img.At(b.Dx()/2, b.Dy()/2).RGBA()
	sig := domain.Signature{float32(r) / 0xffff, float32(g) / 0xffff, float32(bl) / 0xffff}
	if sig[0] < 0.1 && sig[1] < 0.1 && sig[2] < 0.1 {
		return nil, nil
	}
	return []domain.Signature{sig}, nil
}

type nopBroker struct{}

func (nopBroker) PublishWithRetry(context.Context, string, []byte, string) error { return nil }

func photo(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testServer struct {
	router    *gin.Engine
	encoder   *colorEncoder
	status    *jobstatus.Tracker
	publisher *results.Publisher
	deps      *Dependencies
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := kvstore.NewMemoryStore()
	idx := index.NewHNSWIndex(3, "", logger)
	cache := sigcache.New(&sigcache.Config{Store: store, Logger: logger})
	counter := usage.NewCounter(store)
	photos, err := photostore.New(t.TempDir())
	require.NoError(t, err)

	// each call is one second later so listing order is deterministic
	var mu sync.Mutex
	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	ts := &testServer{
		encoder:   &colorEncoder{},
		status:    jobstatus.NewTracker(store, time.Hour),
		publisher: results.NewPublisher(nopBroker{}, store, time.Hour, logger),
	}

	svc := service.NewRecognitionService(&service.Config{
		Logger: logger,
		Resolver: recognition.NewResolver(&recognition.Config{
			Encoder:   ts.encoder,
			Cache:     cache,
			Index:     idx,
			Counter:   counter,
			Dimension: 3,
			Logger:    logger,
		}),
		Queue:   jobqueue.New(nopBroker{}, jobqueue.JobsQueue, logger),
		Status:  ts.status,
		Results: results.NewSubscriber(store, logger),
		Counter: counter,
		Index:   idx,
		Cache:   cache,
		Photos:  photos,
		Now:     now,
	})

	ts.deps = &Dependencies{
		Logger:            logger,
		Service:           svc,
		HealthChecks:      checks,
		ServiceName:       "face-recognition-api",
		ResultWaitTimeout: 300 * time.Millisecond,
	}

	r := gin.New()
	rh := NewRecognitionHandler(ts.deps)
	ih := NewIdentityHandler(ts.deps)
	ah := NewAdminHandler(ts.deps)
	r.GET("/health", ah.Health)
	r.POST("/recognitions/async", rh.SubmitAsync)
	r.POST("/recognitions/sync", rh.ResolveSync)
	r.GET("/jobs/:job_id", rh.GetJob)
	r.GET("/ws/:job_id", rh.StreamResult)
	r.POST("/identities", ih.RegisterIdentity)
	r.GET("/identities", ih.ListIdentities)
	r.GET("/stats", ah.Stats)
	r.DELETE("/reset", ah.Reset)
	ts.router = r

	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) register(t *testing.T, identifier string, c color.Color) {
	t.Helper()
	w := ts.do(uploadRequest(t, "/identities", map[string]string{"identifier": identifier}, photo(t, c)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSubmitAsync(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(uploadRequest(t, "/recognitions/async", nil, photo(t, color.White)))
	require.Equal(t, http.StatusAccepted, w.Code)

	resp := decode[dto.SubmitJobResponse](t, w)
	assert.Equal(t, "pending", resp.Status)
	_, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/jobs/"+resp.JobID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[dto.JobStatusResponse](t, w)
	assert.Equal(t, "PENDING", status.Status)
	assert.Nil(t, status.Result)
}

func TestSubmitAsync_MissingFile(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(uploadRequest(t, "/recognitions/async", nil, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file is required")
}

func TestResolveSync(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", color.RGBA{R: 255, A: 255})

	tests := []struct {
		name       string
		image      []byte
		wantStatus int
		check      func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:       "match",
			image:      photo(t, color.RGBA{R: 255, A: 255}),
			wantStatus: http.StatusOK,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				out := decode[dto.OutcomeDTO](t, w)
				assert.True(t, out.Matched)
				assert.Equal(t, "alice", out.Identity)
				assert.Equal(t, "matched", out.Reason)
				assert.NotEmpty(t, out.Photo)
			},
		},
		{
			name:       "unrecognized",
			image:      photo(t, color.RGBA{G: 255, A: 255}),
			wantStatus: http.StatusOK,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				out := decode[dto.OutcomeDTO](t, w)
				assert.False(t, out.Matched)
				assert.Equal(t, "unrecognized", out.Reason)
			},
		},
		{
			name:       "no face",
			image:      photo(t, color.Black),
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Body.String(), "no_face")
			},
		},
		{
			name:       "not an image",
			image:      []byte("plain text"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(uploadRequest(t, "/recognitions/sync", nil, tt.image))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}

func TestResolveSync_EncoderUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.encoder.err = errors.New("dial tcp: connection refused")

	w := ts.do(uploadRequest(t, "/recognitions/sync", nil, photo(t, color.White)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "dial tcp", "internal errors are not echoed")
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	t.Run("invalid id", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("completed job carries its outcome", func(t *testing.T) {
		jobID := uuid.NewString()
		_, err := ts.publisher.Publish(ctx, &domain.RecognitionOutcome{
			JobID: jobID, Matched: true, Identity: "alice", Reason: domain.ReasonMatched, Attempts: 2,
		})
		require.NoError(t, err)
		require.NoError(t, ts.status.Set(ctx, jobID, domain.JobStateSucceeded, 2, ""))

		w := ts.do(httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.JobStatusResponse](t, w)
		assert.Equal(t, "SUCCEEDED", resp.Status)
		assert.Equal(t, 2, resp.AttemptCount)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "alice", resp.Result.Identity)
	})

	t.Run("dead job has no outcome", func(t *testing.T) {
		jobID := uuid.NewString()
		require.NoError(t, ts.status.Set(ctx, jobID, domain.JobStateDead, 3, "encoder unavailable"))

		w := ts.do(httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.JobStatusResponse](t, w)
		assert.Equal(t, "DEAD", resp.Status)
		assert.Equal(t, "encoder unavailable", resp.ErrorMessage)
		assert.Nil(t, resp.Result)
	})
}

func TestRegisterIdentity(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		fields     map[string]string
		image      []byte
		wantStatus int
	}{
		{name: "missing identifier", image: photo(t, color.White), wantStatus: http.StatusBadRequest},
		{name: "missing file", fields: map[string]string{"identifier": "bob"}, wantStatus: http.StatusBadRequest},
		{name: "no face", fields: map[string]string{"identifier": "bob"}, image: photo(t, color.Black), wantStatus: http.StatusBadRequest},
		{name: "registered", fields: map[string]string{"identifier": "bob"}, image: photo(t, color.White), wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(uploadRequest(t, "/identities", tt.fields, tt.image))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestListIdentities_Pagination(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", color.RGBA{R: 255, A: 255})
	ts.register(t, "bob", color.RGBA{G: 255, A: 255})
	ts.register(t, "carol", color.RGBA{B: 255, A: 255})

	w := ts.do(httptest.NewRequest(http.MethodGet, "/identities?page_size=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[dto.ListIdentitiesResponse](t, w)
	require.Len(t, first.Identities, 2)
	assert.Equal(t, "carol", first.Identities[0].Identifier)
	assert.Equal(t, "bob", first.Identities[1].Identifier)
	require.NotEmpty(t, first.NextCursor)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/identities?page_size=2&cursor="+first.NextCursor, nil))
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[dto.ListIdentitiesResponse](t, w)
	require.Len(t, second.Identities, 1)
	assert.Equal(t, "alice", second.Identities[0].Identifier)
	assert.Empty(t, second.NextCursor)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/identities?cursor=@@@@", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsAndReset(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice", color.RGBA{R: 255, A: 255})

	w := ts.do(uploadRequest(t, "/recognitions/sync", nil, photo(t, color.RGBA{R: 255, A: 255})))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[service.Stats](t, w)
	assert.Equal(t, int64(1), stats.TotalRecognitions)
	assert.Equal(t, 1, stats.Identities)

	w = ts.do(httptest.NewRequest(http.MethodDelete, "/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[service.ResetReport](t, w)
	assert.Equal(t, 1, report.PhotosRemoved)
	assert.Equal(t, 1, report.CacheEntriesFlushed)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/identities", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[dto.ListIdentitiesResponse](t, w).Identities)
}

func TestHealth(t *testing.T) {
	healthy := HealthCheck{Name: "redis", Check: func(context.Context) error { return nil }}
	broken := HealthCheck{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }}

	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t, healthy)
		w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "healthy")
	})

	t.Run("unhealthy", func(t *testing.T) {
		ts := newTestServer(t, healthy, broken)
		w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "postgres")
		assert.NotContains(t, w.Body.String(), `"redis"`)
	})
}

func dialJob(t *testing.T, srv *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + jobID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamResult(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	t.Run("delivers the outcome once", func(t *testing.T) {
		jobID := uuid.NewString()
		conn := dialJob(t, srv, jobID)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = ts.publisher.Publish(context.Background(), &domain.RecognitionOutcome{
				JobID: jobID, Matched: true, Identity: "alice", Reason: domain.ReasonMatched,
			})
		}()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var out dto.OutcomeDTO
		require.NoError(t, conn.ReadJSON(&out))
		assert.Equal(t, jobID, out.JobID)
		assert.Equal(t, "alice", out.Identity)

		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})

	t.Run("already completed job", func(t *testing.T) {
		jobID := uuid.NewString()
		_, err := ts.publisher.Publish(context.Background(), &domain.RecognitionOutcome{
			JobID: jobID, Reason: domain.ReasonUnrecognized,
		})
		require.NoError(t, err)

		conn := dialJob(t, srv, jobID)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var out dto.OutcomeDTO
		require.NoError(t, conn.ReadJSON(&out))
		assert.Equal(t, "unrecognized", out.Reason)
	})

	t.Run("closes without a message when no outcome arrives", func(t *testing.T) {
		conn := dialJob(t, srv, uuid.NewString())

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})

	t.Run("rejects an invalid job id before upgrading", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/nope"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
