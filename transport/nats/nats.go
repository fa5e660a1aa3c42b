// Package nats provides the NATS Core transport.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

const (
	defaultMaxReconnects = 10
	defaultReconnectWait = 2 * time.Second
)

var errURLRequired = errors.New("nats: URL is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register adds the NATS transport to the default registry. Importing
// transport/transports calls it.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// ConnectOptions turns the configured client settings into nats.go options.
func ConnectOptions(cfg transport.Config) []natsgo.Option {
	maxReconnects := cfg.GetNATSMaxReconnects()
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}
	reconnectWait := cfg.GetNATSReconnectWait()
	if reconnectWait <= 0 {
		reconnectWait = defaultReconnectWait
	}

	opts := []natsgo.Option{
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(reconnectWait),
	}
	if name := cfg.GetNATSClientName(); name != "" {
		opts = append(opts, natsgo.Name(name))
	}
	return opts
}

// Build creates a core NATS publisher and subscriber. Subscribers join a
// queue group named after the consumer group so instances of one app share
// the app queue.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errURLRequired
	}
	marshaler := &nats.NATSMarshaler{}
	opts := ConnectOptions(cfg)
	core := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: opts,
			Marshaler:   marshaler,
			JetStream:   core,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: cfg.GetConsumerGroup(),
			NatsOptions:      opts,
			Unmarshaler:      marshaler,
			JetStream:        core,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
