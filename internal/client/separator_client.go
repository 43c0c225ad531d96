package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stemsplit/api/internal/config"
)

// Separator defines the interface to the remote separation worker. The call
// is fire-and-forget: once a job is accepted, all further state arrives
// through the webhook path.
type Separator interface {
	Submit(ctx context.Context, req *SubmitRequest) error
	HealthCheck(ctx context.Context) error
}

// SubmitRequest asks the worker to start separating an uploaded file.
type SubmitRequest struct {
	JobID       string `json:"job_id"`
	FileKey     string `json:"file_key"`
	CallbackURL string `json:"callback_url"`
}

// SeparatorClient implements Separator against the worker's HTTP API.
type SeparatorClient struct {
	httpClient  *http.Client
	baseURL     string
	callbackURL string
}

// NewSeparatorClient creates a new separator client
func NewSeparatorClient(cfg *config.SeparatorConfig) *SeparatorClient {
	return &SeparatorClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		baseURL:     cfg.ServiceURL,
		callbackURL: cfg.CallbackURL,
	}
}

// Submit dispatches a separation job to the worker.
func (c *SeparatorClient) Submit(ctx context.Context, req *SubmitRequest) error {
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("separator error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// HealthCheck checks if the separation worker is available
func (c *SeparatorClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("separator unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SeparatorClient) IsConfigured() bool {
	return c.baseURL != ""
}
