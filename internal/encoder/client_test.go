package encoder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Encode(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantSigs  []domain.Signature
		wantErr   bool
		wantErrIs error
	}{
		{
			name:   "two faces ordered by score",
			status: http.StatusOK,
			body: `{"faces_count":2,"faces":[
				{"face_index":0,"embedding":[0.1,0.2],"det_score":0.7},
				{"face_index":1,"embedding":[0.3,0.4],"det_score":0.9}]}`,
			wantSigs: []domain.Signature{{0.3, 0.4}, {0.1, 0.2}},
		},
		{
			name:     "no faces",
			status:   http.StatusOK,
			body:     `{"faces_count":0,"faces":[]}`,
			wantSigs: []domain.Signature{},
		},
		{
			name:      "rejected image",
			status:    http.StatusUnprocessableEntity,
			body:      `{"detail":"cannot identify image file"}`,
			wantErr:   true,
			wantErrIs: domain.ErrInvalidImage,
		},
		{
			name:    "service unavailable",
			status:  http.StatusServiceUnavailable,
			body:    `overloaded`,
			wantErr: true,
		},
		{
			name:    "garbage response",
			status:  http.StatusOK,
			body:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, faceEndpoint, r.URL.Path)
				assert.Equal(t, http.MethodPost, r.Method)

				file, _, err := r.FormFile("file")
				require.NoError(t, err)
				data, err := io.ReadAll(file)
				require.NoError(t, err)
				assert.Equal(t, []byte("jpeg-bytes"), data)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL+"/", time.Second)
			sigs, err := client.Encode(context.Background(), []byte("jpeg-bytes"))

			if tt.wantErr {
				require.Error(t, err)
				if tt.wantErrIs != nil {
					assert.ErrorIs(t, err, tt.wantErrIs)
				} else {
					assert.NotErrorIs(t, err, domain.ErrInvalidImage)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSigs, sigs)
		})
	}
}

func TestClient_EncodeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).Encode(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidImage)
}
