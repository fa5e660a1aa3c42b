// Package redis provides the Redis Streams transport. Every topic is a
// stream; subscribers read it through a consumer group named after the app,
// so the instances of one app share the app queue.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/relay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

const (
	fieldUUID       = "uuid"
	fieldPayload    = "payload"
	fieldMetaPrefix = "md:"

	readBlock      = 500 * time.Millisecond
	readCount      = 16
	nackResendWait = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

var (
	errAddrRequired  = errors.New("redis: address is required")
	errGroupRequired = errors.New("redis: consumer group is required")
	errClosed        = errors.New("redis: subscriber is closed")
)

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *goredis.Options) goredis.UniversalClient {
	return goredis.NewClient(opts)
}

func init() {
	Register()
}

// Register adds the Redis transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// Build connects to Redis and returns a publisher and subscriber sharing one
// client. The client is closed once both are.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return transport.Transport{}, errAddrRequired
	}
	group := cfg.GetConsumerGroup()
	if group == "" {
		return transport.Transport{}, errGroupRequired
	}

	client := ClientFactory(&goredis.Options{
		Addr:       addr,
		Password:   cfg.GetRedisPassword(),
		DB:         cfg.GetRedisDB(),
		ClientName: cfg.GetRedisConsumerName(),
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return transport.Transport{}, fmt.Errorf("redis: ping %s: %w", addr, err)
	}

	shared := &sharedClient{client: client}
	shared.refs.Store(2)

	consumer := cfg.GetRedisConsumerName()
	if consumer == "" {
		consumer = watermill.NewShortUUID()
	}
	return transport.Transport{
		Publisher: &Publisher{
			client: shared,
			maxLen: cfg.GetRedisStreamMaxLen(),
		},
		Subscriber: &Subscriber{
			client:   shared,
			group:    group,
			consumer: consumer,
			logger:   logger,
			closing:  make(chan struct{}),
		},
	}, nil
}

type sharedClient struct {
	client goredis.UniversalClient
	refs   atomic.Int32
}

func (c *sharedClient) release() error {
	if c.refs.Add(-1) == 0 {
		return c.client.Close()
	}
	return nil
}

// Publisher appends messages to streams with XADD.
type Publisher struct {
	client *sharedClient
	maxLen int64
	closed atomic.Bool
}

// Publish appends messages to the stream named topic in one pipeline.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return errors.New("redis: publisher is closed")
	}
	if len(messages) == 0 {
		return nil
	}

	ctx := messages[0].Context()
	pipe := p.client.client.Pipeline()
	for _, msg := range messages {
		values := make(map[string]any, 2+len(msg.Metadata))
		values[fieldUUID] = msg.UUID
		values[fieldPayload] = []byte(msg.Payload)
		for k, v := range msg.Metadata {
			values[fieldMetaPrefix+k] = v
		}
		args := &goredis.XAddArgs{Stream: topic, Values: values}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: xadd %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.client.release()
}

// Subscriber reads streams through a consumer group. A message is
// acknowledged with XACK once the handler acks it and resent after a nack.
type Subscriber struct {
	client   *sharedClient
	group    string
	consumer string
	logger   watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Subscribe creates the consumer group when missing and starts reading new
// entries of topic.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-s.closing:
		return nil, errClosed
	default:
	}

	err := s.client.client.XGroupCreateMkStream(ctx, topic, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis: create group %s on %s: %w", s.group, topic, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	fields := watermill.LogFields{"topic": topic, "group": s.group, "consumer": s.consumer}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer cancel()
		s.consume(ctx, topic, out, fields)
	}()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (s *Subscriber) consume(ctx context.Context, topic string, out chan<- *message.Message, fields watermill.LogFields) {
	args := &goredis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{topic, ">"},
		Count:    readCount,
		Block:    readBlock,
	}
	backoff := nackResendWait

	for ctx.Err() == nil {
		streams, err := s.client.client.XReadGroup(ctx, args).Result()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			s.logger.Error("Reading stream failed", err, fields)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = nackResendWait

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				if !s.deliver(ctx, topic, entry, out, fields) {
					return
				}
			}
		}
	}
}

// deliver hands entry to the router until it is acked.
func (s *Subscriber) deliver(ctx context.Context, topic string, entry goredis.XMessage, out chan<- *message.Message, fields watermill.LogFields) bool {
	for {
		msg := decode(entry)
		msg.SetContext(ctx)

		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		}

		select {
		case <-msg.Acked():
			if err := s.client.client.XAck(context.WithoutCancel(ctx), topic, s.group, entry.ID).Err(); err != nil {
				s.logger.Error("Acknowledging stream entry failed", err, fields.Add(watermill.LogFields{"entry_id": entry.ID}))
			}
			return true
		case <-msg.Nacked():
			s.logger.Trace("Stream entry nacked, resending", fields.Add(watermill.LogFields{"entry_id": entry.ID}))
			select {
			case <-time.After(nackResendWait):
			case <-ctx.Done():
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

func decode(entry goredis.XMessage) *message.Message {
	uuid, _ := entry.Values[fieldUUID].(string)
	if uuid == "" {
		uuid = entry.ID
	}
	payload, _ := entry.Values[fieldPayload].(string)

	msg := message.NewMessage(uuid, []byte(payload))
	for k, v := range entry.Values {
		key, ok := strings.CutPrefix(k, fieldMetaPrefix)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			msg.Metadata.Set(key, s)
		}
	}
	return msg
}

// Close stops every subscription and waits for the readers to exit.
func (s *Subscriber) Close() error {
	closed := false
	s.closeOnce.Do(func() {
		close(s.closing)
		closed = true
	})
	if !closed {
		return nil
	}
	s.wg.Wait()
	return s.client.release()
}
