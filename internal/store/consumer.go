package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"pitilt.dev/server/pkg/metrics"
	"pitilt.dev/server/pkg/mq"
	"pitilt.dev/server/pkg/tilt"
)

// Consumer consumes reading submissions from RabbitMQ and persists them
// through the same ingestion path as the HTTP surface: API-key resolution
// followed by an atomic batch write.
type Consumer struct {
	logger    *slog.Logger
	store     *Store
	mqClient  *mq.Client
	queueName string
	metrics   *metrics.ServerMetrics
	mqMetrics *metrics.MQMetrics
	done      chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger      *slog.Logger
	Store       *Store
	RabbitMQURL string
	QueueName   string
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	mqClient := mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger)

	return &Consumer{
		logger:    cfg.Logger,
		store:     cfg.Store,
		mqClient:  mqClient,
		queueName: cfg.QueueName,
		done:      make(chan struct{}),
	}, nil
}

// SetMetrics attaches server metrics to the consumer. Must be called before
// Start; a nil receiver or nil metrics leaves instrumentation disabled.
func (c *Consumer) SetMetrics(m *metrics.ServerMetrics, mqm *metrics.MQMetrics) {
	if c == nil {
		return
	}
	c.metrics = m
	c.mqMetrics = mqm
	c.mqClient.SetMetrics(mqm)
}

// Start begins consuming submissions from RabbitMQ.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	// Wait for MQ client to be ready
	time.Sleep(2 * time.Second)

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started, waiting for submissions")

	go c.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				close(c.done)
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single submission delivery. Malformed payloads
// and caller faults (unknown key, invalid readings) are acked so they are
// not redelivered forever; transient storage failures are nacked for
// requeue.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var timer *prometheus.Timer
	if c.mqMetrics != nil {
		timer = prometheus.NewTimer(c.mqMetrics.ConsumeDuration.WithLabelValues(c.queueName))
		defer timer.ObserveDuration()
	}

	var submission tilt.Submission
	if err := json.Unmarshal(delivery.Body, &submission); err != nil {
		c.logger.Error("failed to unmarshal submission",
			"error", err,
		)
		c.countConsumed("rejected")
		c.countFailure("unmarshal")
		// Acknowledge message even on parse error to avoid reprocessing
		c.ack(delivery)
		return
	}

	c.logger.Info("received submission",
		"readings", len(submission.Readings),
	)

	if err := c.saveSubmission(ctx, &submission); err != nil {
		if isCallerFault(err) {
			c.logger.Warn("dropping rejected submission",
				"readings", len(submission.Readings),
				"error", err,
			)
			c.countConsumed("rejected")
			c.countFailure("caller")
			c.ack(delivery)
			return
		}

		c.logger.Error("failed to save submission",
			"readings", len(submission.Readings),
			"error", err,
		)
		c.countConsumed("error")
		c.countFailure("storage")
		// Nack the message so it can be reprocessed
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	c.countConsumed("success")
	c.ack(delivery)

	if c.metrics != nil {
		c.metrics.ReadingsIngested.WithLabelValues("amqp").Add(float64(len(submission.Readings)))
		c.metrics.IngestBatchSize.Observe(float64(len(submission.Readings)))
	}

	c.logger.Debug("submission saved successfully",
		"readings", len(submission.Readings),
	)
}

// saveSubmission resolves the submission's API key and persists the batch.
func (c *Consumer) saveSubmission(ctx context.Context, submission *tilt.Submission) error {
	account, err := c.store.ResolveAccount(ctx, submission.APIKey)
	if err != nil {
		return err
	}
	return c.store.SaveReadings(ctx, account.ID, submission.Readings)
}

// isCallerFault reports whether the error is attributable to the submission
// itself, so that redelivery cannot succeed.
func isCallerFault(err error) bool {
	return errors.Is(err, ErrUnauthorized) || IsValidation(err)
}

func (c *Consumer) countConsumed(status string) {
	if c.mqMetrics != nil {
		c.mqMetrics.MessagesConsumed.WithLabelValues(c.queueName, status).Inc()
	}
}

func (c *Consumer) countFailure(reason string) {
	if c.mqMetrics != nil {
		c.mqMetrics.ConsumptionFailures.WithLabelValues(c.queueName, reason).Inc()
	}
}

func (c *Consumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
}

// Stop stops the consumer and closes the MQ client.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	// Wait for message processing to complete
	<-c.done

	c.logger.Info("consumer stopped")
	return nil
}
