package main

import (
	"log/slog"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging/kafka"
)

// newBroker connects the event transport. gochannel keeps everything in
// process, which is enough for a single node and for local runs.
func newBroker(cfg config.MessagingConfig, logger *slog.Logger) (*messaging.Broker, error) {
	if cfg.Transport == "gochannel" {
		slog.Info("Using in-memory event transport")
		return messaging.NewInMemoryBroker(logger), nil
	}
	slog.Info("Connecting to Kafka", "brokers", cfg.Brokers, "consumer_group", cfg.ConsumerGroup)
	return kafka.NewKafkaBroker(cfg.Brokers, cfg.ConsumerGroup, logger)
}
