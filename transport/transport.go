// Package transport builds the watermill publisher/subscriber pairs that back
// relay's transport routers. Each backend lives in its own sub-package and
// registers a Builder under its name; import transport/transports to register
// all of them.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read. Each builder only looks at the
// values relevant to its backend.
type Config interface {
	// GetTransport returns the registered transport name to build.
	GetTransport() string

	// GetConsumerGroup names the group sharing the app queue, where the
	// backend supports one.
	GetConsumerGroup() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetNATSClientName() string
	GetNATSMaxReconnects() int
	GetNATSReconnectWait() time.Duration
	GetNATSStream() string

	// Redis
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisStreamMaxLen() int64
	GetRedisConsumerName() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
