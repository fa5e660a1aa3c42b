package transport

// Capabilities describes how a backend delivers the topics a transport router
// uses. The broker reports them on its status endpoint.
type Capabilities struct {
	Name string `json:"name"`

	// Durable means published messages survive a restart of the consumer.
	Durable bool `json:"durable"`
	// Broadcast means every subscriber of a topic receives each message,
	// which the broadcast topic relies on.
	Broadcast bool `json:"broadcast"`
	// CompetingConsumers means the app queue is load-balanced across the
	// instances of one app instead of copied to each.
	CompetingConsumers bool `json:"competing_consumers"`
	// Ordering means messages on one topic arrive in publish order.
	Ordering bool `json:"ordering"`
	// Redelivery means a failed handler leads to the message being delivered again.
	Redelivery bool `json:"redelivery"`
	// CrossProcess means peers in other processes can be reached.
	CrossProcess bool `json:"cross_process"`

	// MaxMessageSize in bytes, 0 when unknown or unlimited.
	MaxMessageSize int64 `json:"max_message_size,omitempty"`
}

// Reliable reports whether a message outlives both a consumer restart and a
// failed handler.
func (c Capabilities) Reliable() bool {
	return c.Durable && c.Redelivery
}

var (
	ChannelCapabilities = Capabilities{
		Name:       "channel",
		Broadcast:  true,
		Ordering:   true,
		Redelivery: true,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		Durable:            true,
		CompetingConsumers: true,
		Ordering:           true,
		Redelivery:         true,
		CrossProcess:       true,
		MaxMessageSize:     1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:         "rabbitmq",
		Durable:      true,
		Broadcast:    true,
		Ordering:     true,
		Redelivery:   true,
		CrossProcess: true,
	}

	NATSCapabilities = Capabilities{
		Name:               "nats",
		Broadcast:          true,
		CompetingConsumers: true,
		CrossProcess:       true,
		MaxMessageSize:     1048576,
	}

	RedisCapabilities = Capabilities{
		Name:               "redis",
		Durable:            true,
		CompetingConsumers: true,
		Ordering:           true,
		Redelivery:         true,
		CrossProcess:       true,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:               "nats-jetstream",
		Durable:            true,
		CompetingConsumers: true,
		Redelivery:         true,
		CrossProcess:       true,
		MaxMessageSize:     1048576,
	}

	HTTPCapabilities = Capabilities{
		Name:         "http",
		CrossProcess: true,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		Durable:        true,
		Broadcast:      true,
		Redelivery:     true,
		CrossProcess:   true,
		MaxMessageSize: 262144,
	}
)
