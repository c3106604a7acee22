package tilt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"pitilt.dev/server/pkg/mq"
)

// Publisher pushes reading submissions onto the ingestion queue instead of
// POSTing them, for gateways deployed behind flaky uplinks. The queue
// carries Submission messages since there is no header for the API key.
type Publisher struct {
	logger *slog.Logger
	mq     *mq.Client
	apiKey string
}

// PublisherConfig holds the configuration for a queue Publisher.
type PublisherConfig struct {
	Logger *slog.Logger

	// RabbitMQURL is the broker address, e.g. amqp://localhost:5672.
	RabbitMQURL string

	// QueueName is the ingestion queue consumed by the server.
	QueueName string

	// APIKey is the account's API key, carried inside each message.
	APIKey string
}

// NewPublisher creates a queue publisher. The underlying connection is
// established in the background; early publishes may fail until it is up.
func NewPublisher(cfg *PublisherConfig) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("publisher config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("rabbitmq URL cannot be empty")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	return &Publisher{
		logger: cfg.Logger,
		mq:     mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger),
		apiKey: cfg.APIKey,
	}, nil
}

// Publish sends one batch as a submission message.
func (p *Publisher) Publish(ctx context.Context, batch []Reading) error {
	body, err := json.Marshal(Submission{APIKey: p.apiKey, Readings: batch})
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}
	return p.mq.Publish(ctx, body)
}

// Run publishes a batch from gen every interval until ctx is canceled.
// Like the HTTP client, failed batches are dropped and the next tick sends
// fresh readings.
func (p *Publisher) Run(ctx context.Context, gen *Generator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("sensor publisher started",
		"interval", interval.String(),
		"keys", []string{gen.TempKey, gen.GravityKey},
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sensor publisher stopped")
			return ctx.Err()
		case now := <-ticker.C:
			batch := gen.Batch(now)
			if err := p.Publish(ctx, batch); err != nil {
				p.logger.Error("failed to publish readings", "error", err)
				continue
			}
			p.logger.Debug("published readings", "count", len(batch))
		}
	}
}

// Close shuts down the underlying queue connection.
func (p *Publisher) Close() error {
	return p.mq.Close()
}
