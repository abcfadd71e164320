// Package extractor is the client for the face detection and embedding
// service. The service is a black box: it detects face regions in a frame
// and, on request, produces a fixed-length embedding vector for one region.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/recognition"
)

// ErrModelUnavailable signals degraded mode: no extractor service is
// configured or the service reports it has no model loaded.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// FaceExtractor is the contract consumed by the capture pipeline. The HTTP
// client implements it; tests substitute fakes.
type FaceExtractor interface {
	// Detect returns the face regions found in a JPEG frame
	Detect(ctx context.Context, image []byte) ([]recognition.Detection, error)
	// Embed returns the embedding vector for one detected region
	Embed(ctx context.Context, image []byte, bbox [4]float64) ([]float32, error)
}

// Client talks to the extractor service over HTTP.
type Client struct {
	baseURL    string
	dim        int
	httpClient *http.Client
}

// New creates an extractor client. An empty URL yields a client that reports
// ErrModelUnavailable on every call rather than an error at construction,
// so the rest of the service can come up in degraded mode.
func New(cfg config.ExtractorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		dim:        cfg.Dim,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	Image string `json:"image"` // base64-encoded JPEG
}

type detectResponse struct {
	Faces []struct {
		BBox       []float64 `json:"bbox"`
		Confidence float64   `json:"confidence"`
	} `json:"faces"`
}

type embedRequest struct {
	Image string    `json:"image"`
	BBox  []float64 `json:"bbox"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dim       int       `json:"dim"`
}

// Detect returns all face regions found in the frame.
func (c *Client) Detect(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	if c.baseURL == "" {
		return nil, ErrModelUnavailable
	}

	var resp detectResponse
	req := detectRequest{Image: base64.StdEncoding.EncodeToString(image)}
	if err := c.postJSON(ctx, "/detect", req, &resp); err != nil {
		return nil, err
	}

	detections := make([]recognition.Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("extractor returned bbox with %d coordinates", len(f.BBox))
		}
		detections = append(detections, recognition.Detection{
			BBox:       [4]float64{f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]},
			Confidence: f.Confidence,
		})
	}
	return detections, nil
}

// Embed returns the embedding for one face region. The vector dimensionality
// is validated against the configured dimension; a mismatch means the service
// runs a different model than the enrolled identities were produced with.
func (c *Client) Embed(ctx context.Context, image []byte, bbox [4]float64) ([]float32, error) {
	if c.baseURL == "" {
		return nil, ErrModelUnavailable
	}

	var resp embedResponse
	req := embedRequest{
		Image: base64.StdEncoding.EncodeToString(image),
		BBox:  bbox[:],
	}
	if err := c.postJSON(ctx, "/embed", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding) != c.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(resp.Embedding), c.dim)
	}
	return resp.Embedding, nil
}

// postJSON performs a POST request with a JSON body and unmarshals the JSON
// response into result.
func (c *Client) postJSON(ctx context.Context, endpoint string, requestBody, result any) error {
	payload, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return ErrModelUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("extractor request failed with status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}
	return nil
}
