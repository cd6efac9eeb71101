package kafka

import (
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/messaging"
)

// marshaler keys Kafka messages by the aggregate id so all events of one
// order land on the same partition, in order.
func marshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(messaging.MetadataKey), nil
	})
}

// NewKafkaBroker creates a Kafka publisher and subscriber.
func NewKafkaBroker(brokers []string, consumerGroup string, logger *slog.Logger) (*messaging.Broker, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	pubConfig := kafka.DefaultSaramaSyncPublisherConfig()
	pubConfig.Producer.RequiredAcks = sarama.WaitForAll
	pubConfig.Producer.Idempotent = true
	pubConfig.Net.MaxOpenRequests = 1
	pubConfig.Producer.Retry.Max = 5

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler(),
			OverwriteSaramaConfig: pubConfig,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	subConfig := kafka.DefaultSaramaSubscriberConfig()
	subConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler(),
			OverwriteSaramaConfig: subConfig,
			ConsumerGroup:         consumerGroup,
		},
		wmLogger,
	)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}

	return messaging.NewBroker(publisher, subscriber), nil
}
