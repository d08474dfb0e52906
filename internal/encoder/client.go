// Package encoder talks to the external face encoding service.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/face-recognition/internal/domain"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 30 * time.Second
	faceEndpoint   = "/embed/face"
)

// Client posts images to the encoding service and returns one signature per detected face
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new encoder client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// faceDetection is a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`
}

// faceResponse is the response of the face endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Encode returns the signatures of every face in the image, largest detection score first.
// An empty result means no face was found. Rejected images map to domain.ErrInvalidImage.
func (c *Client) Encode(ctx context.Context, image []byte) ([]domain.Signature, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+faceEndpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encoder request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: encoder rejected image: %s", domain.ErrInvalidImage, string(body))
	default:
		return nil, fmt.Errorf("encoder error (status %d): %s", resp.StatusCode, string(body))
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse encoder response: %w", err)
	}

	faces := faceResp.Faces
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].DetScore > faces[j].DetScore
	})

	signatures := make([]domain.Signature, 0, len(faces))
	for _, f := range faces {
		if len(f.Embedding) == 0 {
			continue
		}
		signatures = append(signatures, domain.Signature(f.Embedding))
	}

	return signatures, nil
}
