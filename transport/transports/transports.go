// Package transports registers every built-in transport with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/relay/transport/aws"
	_ "github.com/drblury/relay/transport/channel"
	_ "github.com/drblury/relay/transport/http"
	"github.com/drblury/relay/transport/jetstream"
	_ "github.com/drblury/relay/transport/kafka"
	"github.com/drblury/relay/transport/nats"
	"github.com/drblury/relay/transport/rabbitmq"
	_ "github.com/drblury/relay/transport/redis"
)

func init() {
	jetstream.Register()
	nats.Register()
	rabbitmq.Register()
}
