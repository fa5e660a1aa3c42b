// Package channel provides the in-memory transport. Every router built from
// it in one process shares a single bus, so brokers living side by side can
// exchange envelopes without any infrastructure.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory creates the process-wide bus. Override it in tests.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var (
	busMu  sync.Mutex
	busPub message.Publisher
	busSub message.Subscriber
)

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns handles on the shared bus. Closing them leaves the bus
// running for other routers.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	busMu.Lock()
	defer busMu.Unlock()

	if busPub == nil {
		busPub, busSub = Factory(gochannel.Config{OutputChannelBuffer: 64}, logger)
	}
	return transport.Transport{
		Publisher:  sharedPublisher{busPub},
		Subscriber: sharedSubscriber{busSub},
	}, nil
}

// Reset closes the shared bus. The next Build creates a fresh one.
func Reset() error {
	busMu.Lock()
	defer busMu.Unlock()

	if busPub == nil {
		return nil
	}
	err := busPub.Close()
	if any(busSub) != any(busPub) {
		err = errors.Join(err, busSub.Close())
	}
	busPub, busSub = nil, nil
	return err
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type sharedPublisher struct {
	message.Publisher
}

func (sharedPublisher) Close() error { return nil }

type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error { return nil }
