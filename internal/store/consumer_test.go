package store_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pitilt.dev/server/internal/store"
)

var _ = Describe("Consumer", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("NewConsumer", func() {
		Context("with invalid configuration", func() {
			It("should return an error for nil config", func() {
				consumer, err := store.NewConsumer(nil)
				Expect(err).To(MatchError(ContainSubstring("config")))
				Expect(consumer).To(BeNil())
			})

			It("should return an error for missing logger", func() {
				consumer, err := store.NewConsumer(&store.ConsumerConfig{
					RabbitMQURL: "amqp://localhost:5672",
					QueueName:   "tilt-data",
				})
				Expect(err).To(MatchError(ContainSubstring("logger")))
				Expect(consumer).To(BeNil())
			})

			It("should return an error for missing store", func() {
				consumer, err := store.NewConsumer(&store.ConsumerConfig{
					Logger:      logger,
					RabbitMQURL: "amqp://localhost:5672",
					QueueName:   "tilt-data",
				})
				Expect(err).To(MatchError(ContainSubstring("store")))
				Expect(consumer).To(BeNil())
			})

			It("should return an error for an empty rabbitmq URL", func() {
				consumer, err := store.NewConsumer(&store.ConsumerConfig{
					Logger:    logger,
					QueueName: "tilt-data",
				})
				Expect(err).To(HaveOccurred())
				Expect(consumer).To(BeNil())
			})

			It("should return an error for an empty queue name", func() {
				consumer, err := store.NewConsumer(&store.ConsumerConfig{
					Logger:      logger,
					RabbitMQURL: "amqp://localhost:5672",
				})
				Expect(err).To(HaveOccurred())
				Expect(consumer).To(BeNil())
			})
		})
	})
})
