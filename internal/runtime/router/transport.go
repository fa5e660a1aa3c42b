package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/codec"
	"github.com/drblury/relay/internal/runtime/endpoint"
	"github.com/drblury/relay/internal/runtime/envelope"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/logging"
)

// DefaultTopicPrefix namespaces every topic a transport router touches.
const DefaultTopicPrefix = "relay"

// TransportConfig configures a Transport router.
type TransportConfig struct {
	Name       string
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Local is the endpoint of the owning broker instance. Its app and
	// instance ids select the queues this router consumes.
	Local       endpoint.Endpoint
	TopicPrefix string
	Codec       *codec.Codec
	// Handler serves inbound requests. Without one they are acknowledged.
	Handler Handler
	Logger  logging.ServiceLogger

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	CloseTimeout         time.Duration

	// PoisonTopic receives inbound messages that keep failing. Empty
	// disables the poison queue.
	PoisonTopic string
	// Middlewares run innermost, after the built-in chain.
	Middlewares []message.HandlerMiddleware
	// MetricsRegisterer enables the watermill handler metrics.
	MetricsRegisterer prometheus.Registerer
	MetricsNamespace  string
	TracerProvider    trace.TracerProvider
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.Codec == nil {
		c.Codec = codec.New()
	}
	if c.Logger == nil {
		c.Logger = logging.NopLogger()
	}
	if c.RetryMaxRetries == 0 {
		c.RetryMaxRetries = 3
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.RetryMaxInterval == 0 {
		c.RetryMaxInterval = 5 * time.Second
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "relay"
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 10 * time.Second
	}
	return c
}

// Transport adapts a watermill publisher/subscriber pair into a Router.
//
// Each broker instance consumes three topics: its instance inbox, the queue
// shared by every instance of its app, and the broadcast topic.
type Transport struct {
	Notifier

	conf   TransportConfig
	logger logging.ServiceLogger

	mu     sync.Mutex
	router *message.Router
	done   chan error
}

// NewTransport validates conf and returns an uninitialized router.
func NewTransport(conf TransportConfig) (*Transport, error) {
	if conf.Name == "" {
		return nil, errspkg.ErrRouterNameRequired
	}
	if conf.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if conf.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	conf = conf.withDefaults()
	return &Transport{
		conf:   conf,
		logger: conf.Logger.With(logging.LogFields{"router": conf.Name}),
	}, nil
}

func (t *Transport) Name() string { return t.conf.Name }

// Topic returns the topic an envelope addressed to ep is published on.
func (t *Transport) Topic(ep endpoint.Endpoint) string {
	switch {
	case ep.AppID() == "":
		return t.BroadcastTopic()
	case ep.AppInstanceID() == "":
		return t.conf.TopicPrefix + "." + topicSegment(ep.AppID())
	default:
		return t.conf.TopicPrefix + "." + topicSegment(ep.AppID()) + "." + topicSegment(ep.AppInstanceID())
	}
}

// BroadcastTopic is used for envelopes without recipients.
func (t *Transport) BroadcastTopic() string {
	return t.conf.TopicPrefix + ".broadcast"
}

func topicSegment(s string) string {
	return strings.NewReplacer(".", "_", "/", "_", " ", "_").Replace(s)
}

// Topics lists the topics consumed by this router.
func (t *Transport) Topics() []string {
	topics := []string{t.BroadcastTopic()}
	if t.conf.Local.AppID() != "" {
		topics = append(topics, t.Topic(t.conf.Local.App()))
	}
	if t.conf.Local.AppInstanceID() != "" {
		topics = append(topics, t.Topic(t.conf.Local.Instance()))
	}
	return topics
}

// Initialize starts consuming and returns once the watermill router runs.
// On failure the publisher and subscriber are closed.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.router != nil {
		return nil
	}

	wmLogger := logging.NewWatermillAdapter(t.logger)
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: t.conf.CloseTimeout}, wmLogger)
	if err != nil {
		return t.abort(fmt.Errorf("create watermill router: %w", err))
	}
	chain, err := t.middlewares()
	if err != nil {
		return t.abort(fmt.Errorf("build middleware chain: %w", err))
	}
	r.AddMiddleware(chain...)
	t.addMetrics(r)
	for _, topic := range t.Topics() {
		r.AddNoPublisherHandler(t.conf.Name+"-"+topic, topic, t.conf.Subscriber, t.handle)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.WithoutCancel(ctx))
	}()

	select {
	case <-r.Running():
	case err := <-done:
		if err == nil {
			err = errors.New("watermill router stopped during startup")
		}
		return t.abort(err)
	case <-ctx.Done():
		if err := r.Close(); err != nil {
			return t.abort(ctx.Err(), fmt.Errorf("close watermill router: %w", err))
		}
		return t.abort(ctx.Err())
	}

	t.router = r
	t.done = done
	t.logger.Info("Transport router running", logging.LogFields{"topics": t.Topics()})
	return nil
}

// abort releases the publisher and subscriber of a router that failed to
// start and returns cause joined with any close failures.
func (t *Transport) abort(cause error, more ...error) error {
	errs := append([]error{cause}, more...)
	if err := t.conf.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := t.conf.Subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}
	t.logger.Error("Transport router failed to start", cause, nil)
	return errors.Join(errs...)
}

// Dispatch publishes env once per distinct recipient topic, or on the
// broadcast topic when env has no recipients.
func (t *Transport) Dispatch(ctx context.Context, env *envelope.Envelope) (Instruction, *envelope.Envelope, error) {
	msg, err := t.conf.Codec.Encode(env)
	if err != nil {
		return InstructionNone, nil, err
	}

	topics := t.publishTopics(env)
	var errs []error
	for _, topic := range topics {
		out := msg.Copy()
		out.SetContext(ctx)
		if err := t.conf.Publisher.Publish(topic, out); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", topic, err))
		}
	}
	t.logger.Trace("Envelope published", logging.LogFields{
		"message_id": env.ID,
		"topics":     topics,
	})
	return InstructionNone, nil, errors.Join(errs...)
}

func (t *Transport) publishTopics(env *envelope.Envelope) []string {
	recipients := env.Recipients()
	if len(recipients) == 0 {
		return []string{t.BroadcastTopic()}
	}
	seen := make(map[string]struct{}, len(recipients))
	topics := make([]string, 0, len(recipients))
	for _, r := range recipients {
		topic := t.Topic(r)
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

func (t *Transport) handle(msg *message.Message) error {
	env, err := t.conf.Codec.Decode(msg)
	if err != nil {
		// Undecodable payloads never succeed on retry.
		t.logger.Error("Dropping undecodable message", err, logging.LogFields{"message_uuid": msg.UUID})
		return nil
	}
	if t.isOwnBroadcast(env) {
		return nil
	}

	ctx := msg.Context()
	if env.IsReply() {
		if !t.Notify(ctx, t, env) {
			t.logger.Debug("Reply received without subscribers", logging.LogFields{"message_id": env.ID})
		}
		return nil
	}
	if t.conf.Handler == nil {
		t.logger.Debug("Inbound envelope acknowledged without handler", logging.LogFields{"message_id": env.ID})
		return nil
	}

	result, err := t.conf.Handler(ctx, env)
	if env.OneWay {
		return err
	}
	if err != nil {
		result = err
	}
	reply := envelope.NewReply(env, result)
	reply.Sender = t.conf.Local
	if _, _, err := t.Dispatch(ctx, reply); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}

func (t *Transport) isOwnBroadcast(env *envelope.Envelope) bool {
	if t.conf.Local.IsZero() || env.IsReply() || env.RecipientCount() > 0 {
		return false
	}
	return env.Sender.Instance().Equal(t.conf.Local.Instance())
}

// Finalize stops consuming and closes the publisher and subscriber.
func (t *Transport) Finalize(ctx context.Context) error {
	t.mu.Lock()
	r, done := t.router, t.done
	t.router, t.done = nil, nil
	t.mu.Unlock()

	var errs []error
	if r != nil {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watermill router: %w", err))
		}
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if err := t.conf.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := t.conf.Subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}
	return errors.Join(errs...)
}
