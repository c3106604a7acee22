package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pitilt.dev/server/internal/server"
	"pitilt.dev/server/internal/store"
	"pitilt.dev/server/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the API server",
	Long: `Run the API server that:
- Accepts batched tilt readings over authenticated HTTP
- Optionally consumes reading submissions from RabbitMQ
- Persists data to PostgreSQL
- Serves plot, instrument and share-link endpoints
- Exposes Prometheus metrics on a separate listener`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serverCmd.Flags().Int("metrics-port", 9100, "Prometheus metrics port (0 disables)")
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "pitilt", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables the AMQP consumer)")
	serverCmd.Flags().String("queue-name", "tilt-data", "RabbitMQ queue name for reading submissions")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.metrics.port", serverCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.rabbitmq.url", serverCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("server.rabbitmq.queue_name", serverCmd.Flags().Lookup("queue-name"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting server service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(&store.DBConfig{
		Logger:   logger,
		Host:     viper.GetString("server.db.host"),
		Port:     viper.GetInt("server.db.port"),
		User:     viper.GetString("server.db.user"),
		Password: viper.GetString("server.db.password"),
		DBName:   viper.GetString("server.db.name"),
		SSLMode:  viper.GetString("server.db.sslmode"),
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	st, err := store.New(logger, db)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		return err
	}

	serverMetrics := metrics.NewServerMetrics("pitilt")
	st.SetMetrics(serverMetrics)

	// Optional AMQP ingestion path
	rabbitURL := viper.GetString("server.rabbitmq.url")
	if rabbitURL != "" {
		consumer, err := store.NewConsumer(&store.ConsumerConfig{
			Logger:      logger,
			Store:       st,
			RabbitMQURL: rabbitURL,
			QueueName:   viper.GetString("server.rabbitmq.queue_name"),
		})
		if err != nil {
			logger.Error("failed to create consumer", "error", err)
			return err
		}
		consumer.SetMetrics(serverMetrics, metrics.NewMQMetrics("pitilt"))

		if err := consumer.Start(ctx); err != nil {
			logger.Error("failed to start consumer", "error", err)
			return err
		}
		defer func() {
			cancel()
			if err := consumer.Stop(); err != nil {
				logger.Error("failed to stop consumer", "error", err)
			}
		}()
	}

	srv, err := server.NewServer(&server.ServerConfig{
		Logger:      logger,
		Store:       st,
		HTTPPort:    viper.GetInt("server.http.port"),
		MetricsPort: viper.GetInt("server.metrics.port"),
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return err
	}
	srv.SetMetrics(serverMetrics)

	logger.Info("server configuration",
		"http_port", viper.GetInt("server.http.port"),
		"metrics_port", viper.GetInt("server.metrics.port"),
		"db_host", viper.GetString("server.db.host"),
		"db_name", viper.GetString("server.db.name"),
		"rabbitmq_url", rabbitURL,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}
