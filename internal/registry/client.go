// internal/registry/client.go
// Package registry fetches job definitions from the external task
// registry. The registry is the single source of truth for which jobs
// exist; the scheduler periodically reconciles against it.
package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gleaner/api/schemas"
	"github.com/xkilldash9x/gleaner/internal/config"
)

// Client talks HTTP to the task registry.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a registry client from configuration.
func NewClient(cfg config.RegistryConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger.Named("registry_client"),
	}
}

// tasksResponse is the registry's list envelope.
type tasksResponse struct {
	Tasks []schemas.JobSpec `json:"tasks"`
}

// ListEnabled returns every enabled job the registry knows about. The
// filter rides along as query parameters, but disabled jobs are also
// dropped client-side so a registry that ignores the parameters still
// behaves correctly.
func (c *Client) ListEnabled(ctx context.Context) ([]schemas.JobSpec, error) {
	body, err := c.get(ctx, c.baseURL+"/tasks?enabled=true&kind=browser")
	if err != nil {
		return nil, err
	}

	var resp tasksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}

	enabled := make([]schemas.JobSpec, 0, len(resp.Tasks))
	for _, job := range resp.Tasks {
		if job.Enabled {
			enabled = append(enabled, job)
		}
	}
	c.logger.Debug("Fetched task list.",
		zap.Int("total", len(resp.Tasks)),
		zap.Int("enabled", len(enabled)))
	return enabled, nil
}

// Get fetches one job by ID. A 404 maps to ErrNotFound so callers can
// distinguish "no such job" from transport trouble.
func (c *Client) Get(ctx context.Context, jobID string) (*schemas.JobSpec, error) {
	body, err := c.get(ctx, c.baseURL+"/tasks/"+jobID)
	if err != nil {
		return nil, err
	}

	var job schemas.JobSpec
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", jobID, err)
	}
	return &job, nil
}

// get issues one GET with retries. 5xx and network errors retry;
// anything else is permanent.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	b.MaxInterval = 10 * time.Second

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Registry request failed, retrying...", zap.Error(err))
			return fmt.Errorf("registry request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read registry response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body = respBody
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: registry has no such resource (%s)",
				schemas.ErrNotFound, url))
		case resp.StatusCode >= 500:
			c.logger.Warn("Registry returned server error, retrying...",
				zap.Int("status", resp.StatusCode))
			return fmt.Errorf("registry returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("registry returned status %d: %s",
				resp.StatusCode, strings.TrimSpace(string(respBody))))
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
