// Package driver defines the backend contract consumed by the guardrail
// client. Each driver implementation (kafka, nats, rabbitmq, aws, channel)
// lives in its own sub-package and registers itself with the driver registry;
// none of them knows anything about admission control, retries, or
// dead-letter routing.
package driver

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	envelopepkg "github.com/drblury/guardrail/internal/runtime/envelope"
)

// MessageHandler consumes one inbound envelope. The client always registers a
// wrapped handler here; a non-nil return asks the driver to nack the message.
type MessageHandler func(ctx context.Context, env *envelopepkg.Envelope) error

// Driver is the transport contract. Implementations carry no resilience
// logic; the client layers admission control and failure isolation on top.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Publish transmits one envelope to the (already namespaced) topic.
	Publish(ctx context.Context, topic string, env *envelopepkg.Envelope) error

	// Subscribe registers the handler for the topic and starts delivery.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Unsubscribe stops delivery for the topic.
	Unsubscribe(topic string) error

	SubscribedTopics() []string
}

// Builder is the function signature for creating a driver from config.
// Each driver package provides a Builder that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Driver, error)

// Config provides the configuration values needed by drivers. The interface
// lets each driver access only the keys it needs without depending on the
// full config package.
type Config interface {
	// GetBackend returns the driver name to build.
	GetBackend() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// NATS
	GetNATSURL() string
	GetNATSClientName() string

	// RabbitMQ
	GetRabbitMQURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
