// Package detect talks to the object-detection service that labels images.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Label is one object found in an image
type Label struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

// Detector labels a single image
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Label, error)
}

// Loader prepares a Detector. A load failure is fatal to the caller.
type Loader interface {
	Load(ctx context.Context) (Detector, error)
}

// DetectorFunc adapts a function to Detector
type DetectorFunc func(ctx context.Context, imagePath string) ([]Label, error)

func (f DetectorFunc) Detect(ctx context.Context, imagePath string) ([]Label, error) {
	return f(ctx, imagePath)
}

// Client calls the detection service over HTTP
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

var _ Loader = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}
}

// Load asks the service to load the configured model.
func (c *Client) Load(ctx context.Context) (Detector, error) {
	var resp struct {
		Model   string `json:"model"`
		Classes int    `json:"classes"`
	}
	if err := c.post(ctx, "/v1/models/load", map[string]any{"model": c.model}, &resp); err != nil {
		return nil, fmt.Errorf("load model %s: %w", c.model, err)
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Model{client: c, name: model, classes: resp.Classes}, nil
}

// Model is a loaded detection model
type Model struct {
	client  *Client
	name    string
	classes int
}

// Name returns the model name reported by the service
func (m *Model) Name() string { return m.name }

// Detect sends the image and returns its labels in service order.
func (m *Model) Detect(ctx context.Context, imagePath string) ([]Label, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	payload := map[string]any{
		"model":    m.name,
		"filename": filepath.Base(imagePath),
		"image":    base64.StdEncoding.EncodeToString(data),
	}

	var resp struct {
		Detections []Label `json:"detections"`
	}
	if err := m.client.post(ctx, "/v1/detect", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
