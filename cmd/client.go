package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pitilt.dev/server/pkg/tilt"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the sensor client",
	Long: `Run the sensor client that:
- Generates synthetic gravity and temperature readings
- Pushes batches to a pitilt server over HTTP, or publishes them to RabbitMQ
- Retries on the next tick after transient failures`,
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)

	// Client-specific flags
	clientCmd.Flags().String("base-url", "http://localhost:8080", "Base URL of the ingestion server")
	clientCmd.Flags().String("api-key", "", "Account API key")
	clientCmd.Flags().Duration("interval", 15*time.Minute, "Interval between pushes")
	clientCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (publishes to the queue instead of HTTP)")
	clientCmd.Flags().String("queue-name", "tilt-data", "RabbitMQ queue name for reading submissions")

	// Bind flags to viper
	_ = viper.BindPFlag("client.base_url", clientCmd.Flags().Lookup("base-url"))
	_ = viper.BindPFlag("client.api_key", clientCmd.Flags().Lookup("api-key"))
	_ = viper.BindPFlag("client.interval", clientCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("client.rabbitmq.url", clientCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("client.rabbitmq.queue_name", clientCmd.Flags().Lookup("queue-name"))
}

func runClient(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting sensor client")

	gen := tilt.NewGenerator()
	interval := viper.GetDuration("client.interval")

	logger.Info("client configuration",
		"base_url", viper.GetString("client.base_url"),
		"rabbitmq_url", viper.GetString("client.rabbitmq.url"),
		"interval", interval,
		"temp_key", gen.TempKey,
		"gravity_key", gen.GravityKey,
	)

	var err error
	if rabbitURL := viper.GetString("client.rabbitmq.url"); rabbitURL != "" {
		var publisher *tilt.Publisher
		publisher, err = tilt.NewPublisher(&tilt.PublisherConfig{
			Logger:      logger,
			RabbitMQURL: rabbitURL,
			QueueName:   viper.GetString("client.rabbitmq.queue_name"),
			APIKey:      viper.GetString("client.api_key"),
		})
		if err != nil {
			logger.Error("failed to create publisher", "error", err)
			return err
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Error("failed to close publisher", "error", closeErr)
			}
		}()
		err = publisher.Run(context.Background(), gen, interval)
	} else {
		var client *tilt.Client
		client, err = tilt.NewClient(&tilt.ClientConfig{
			Logger:  logger,
			BaseURL: viper.GetString("client.base_url"),
			APIKey:  viper.GetString("client.api_key"),
		})
		if err != nil {
			logger.Error("failed to create client", "error", err)
			return err
		}
		err = client.Run(context.Background(), gen, interval)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("client error", "error", err)
		return err
	}

	logger.Info("sensor client stopped")
	return nil
}
