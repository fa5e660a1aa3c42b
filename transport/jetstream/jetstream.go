// Package jetstream provides a durable NATS transport on top of JetStream.
// Every topic is a subject in one stream; each consumer group reads a topic
// through its own durable pull consumer, so the instances of an app share
// the app queue and unacknowledged messages survive restarts.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/relay/transport"
	"github.com/drblury/relay/transport/nats"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStream is used when no stream name is configured.
	DefaultStream = "RELAY"

	defaultAckWait   = 30 * time.Second
	defaultMaxAge    = 7 * 24 * time.Hour
	inactiveConsumer = time.Hour
	fetchBatch       = 16
	fetchWait        = time.Second
)

var (
	errURLRequired   = errors.New("nats-jetstream: URL is required")
	errGroupRequired = errors.New("nats-jetstream: consumer group is required")
	errClosed        = errors.New("nats-jetstream: transport is closed")
)

// Connect allows overriding the connection for testing.
var Connect = natsgo.Connect

// Register adds the JetStream transport to the default registry. Importing
// transport/transports calls it.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Build connects to NATS and makes sure the stream exists. The returned
// transport is both publisher and subscriber; closing either closes the
// connection.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errURLRequired
	}
	group := cfg.GetConsumerGroup()
	if group == "" {
		return transport.Transport{}, errGroupRequired
	}
	stream := cfg.GetNATSStream()
	if stream == "" {
		stream = DefaultStream
	}

	conn, err := Connect(url, nats.ConnectOptions(cfg)...)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats-jetstream: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return transport.Transport{}, fmt.Errorf("nats-jetstream: context: %w", err)
	}

	t := &Transport{
		conn:    conn,
		js:      js,
		stream:  stream,
		group:   group,
		logger:  logger,
		closing: make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		conn.Close()
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

// Transport publishes to and pulls from one JetStream stream.
type Transport struct {
	conn   *natsgo.Conn
	js     natsgo.JetStreamContext
	stream string
	group  string
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, natsgo.ErrStreamNotFound) {
		return fmt.Errorf("nats-jetstream: stream %s: %w", t.stream, err)
	}
	_, err = t.js.AddStream(&natsgo.StreamConfig{
		Name:      t.stream,
		Subjects:  []string{t.stream + ".>"},
		Retention: natsgo.LimitsPolicy,
		MaxAge:    defaultMaxAge,
	})
	if err != nil && !errors.Is(err, natsgo.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("nats-jetstream: create stream %s: %w", t.stream, err)
	}
	t.logger.Info("JetStream stream created", watermill.LogFields{"stream": t.stream})
	return nil
}

// Publish stores messages in the stream. The message UUID doubles as the
// JetStream message id, so a retried publish is deduplicated by the server.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}
	subject := subjectFor(t.stream, topic)
	for _, msg := range messages {
		out := natsgo.NewMsg(subject)
		out.Data = msg.Payload
		for k, v := range msg.Metadata {
			out.Header.Set(k, v)
		}
		if _, err := t.js.PublishMsg(out, natsgo.MsgId(msg.UUID)); err != nil {
			return fmt.Errorf("nats-jetstream: publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe pulls topic through the consumer group's durable consumer.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}
	subject := subjectFor(t.stream, topic)
	durable := durableFor(t.group, topic)

	sub, err := t.js.PullSubscribe(subject, durable,
		natsgo.BindStream(t.stream),
		natsgo.AckExplicit(),
		natsgo.AckWait(defaultAckWait),
		natsgo.InactiveThreshold(inactiveConsumer),
	)
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: subscribe %s: %w", subject, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	fields := watermill.LogFields{"subject": subject, "durable": durable}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		defer cancel()
		t.fetch(ctx, sub, out, fields)
	}()
	go func() {
		select {
		case <-t.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (t *Transport) fetch(ctx context.Context, sub *natsgo.Subscription, out chan<- *message.Message, fields watermill.LogFields) {
	for ctx.Err() == nil {
		batch, err := sub.Fetch(fetchBatch, natsgo.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, natsgo.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, natsgo.ErrConnectionClosed) || errors.Is(err, natsgo.ErrBadSubscription) {
				return
			}
			t.logger.Error("Fetching from JetStream failed", err, fields)
			select {
			case <-time.After(fetchWait):
			case <-ctx.Done():
			}
			continue
		}

		for _, in := range batch {
			if !t.deliver(ctx, in, out, fields) {
				return
			}
		}
	}
}

// deliver hands in to the router and settles it with the server. Messages
// left unsettled on shutdown are redelivered after the ack wait.
func (t *Transport) deliver(ctx context.Context, in *natsgo.Msg, out chan<- *message.Message, fields watermill.LogFields) bool {
	msg := toMessage(in)
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	}

	select {
	case <-msg.Acked():
		if err := in.Ack(); err != nil {
			t.logger.Error("Acknowledging JetStream message failed", err, fields)
		}
	case <-msg.Nacked():
		if err := in.Nak(); err != nil {
			t.logger.Error("Rejecting JetStream message failed", err, fields)
		}
	case <-ctx.Done():
		return false
	}
	return true
}

func toMessage(in *natsgo.Msg) *message.Message {
	uuid := in.Header.Get(natsgo.MsgIdHdr)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, in.Data)
	for k, v := range in.Header {
		if len(v) == 0 || strings.HasPrefix(k, "Nats-") {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

func subjectFor(stream, topic string) string {
	return stream + "." + topic
}

// durableFor names the consumer a group reads topic with. Durable names
// cannot contain dots, wildcards or whitespace.
func durableFor(group, topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, group+"_"+topic)
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// Close stops every subscription and closes the connection. Durable
// consumers stay on the server and expire once inactive.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
		t.wg.Wait()
		t.conn.Close()
	})
	return nil
}
