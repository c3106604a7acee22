package tilt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// APIKeyHeader is the header clients use to present their account API key.
const APIKeyHeader = "X-PYTILT-KEY"

// Client periodically posts sensor readings to the ingestion endpoint.
// It retries unconditionally on the next tick and keeps no delivery state,
// so duplicate submissions are possible after transient failures.
type Client struct {
	logger   *slog.Logger
	http     *http.Client
	endpoint string
	apiKey   string
}

// ClientConfig holds the configuration for a push Client.
type ClientConfig struct {
	Logger *slog.Logger

	// BaseURL is the root of the ingestion service, e.g. http://localhost:8080.
	BaseURL string

	// APIKey is the account's API key.
	APIKey string

	// Timeout bounds each POST. Defaults to 10 seconds.
	Timeout time.Duration
}

// NewClient creates a push client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		logger:   cfg.Logger,
		http:     &http.Client{Timeout: timeout},
		endpoint: cfg.BaseURL + "/data",
		apiKey:   cfg.APIKey,
	}, nil
}

// Push posts one batch of readings.
func (c *Client) Push(ctx context.Context, batch []Reading) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post readings: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("ingestion endpoint returned %s", resp.Status)
	}
	return nil
}

// Run pushes a batch from gen every interval until ctx is canceled.
// Failures are logged and dropped; the next tick sends fresh readings.
func (c *Client) Run(ctx context.Context, gen *Generator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("sensor client started",
		"endpoint", c.endpoint,
		"interval", interval.String(),
		"keys", []string{gen.TempKey, gen.GravityKey},
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sensor client stopped")
			return ctx.Err()
		case now := <-ticker.C:
			batch := gen.Batch(now)
			if err := c.Push(ctx, batch); err != nil {
				c.logger.Error("failed to push readings", "error", err)
				continue
			}
			c.logger.Debug("pushed readings", "count", len(batch))
		}
	}
}
